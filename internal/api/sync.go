package api

import (
	"io"
	"net/http"

	"github.com/nerrad567/anpr-simulator/internal/cdk"
)

// handleSync executes one CDK command per request.
//
// Every decodable request answers 200 with the CDK document, failed or not;
// the failure is carried in @status. Only an unreadable body is an HTTP error.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "unable to read request body")
		return
	}

	res := s.dispatcher.HandleMessage(r.Context(), cdk.Origin{
		Channel: cdk.ChannelHTTP,
		Remote:  r.RemoteAddr,
	}, body)

	data, err := res.Marshal()
	if err != nil {
		s.logger.Error("failed to encode answer", "command", res.Command, "error", err)
		writeInternalError(w, "failed to encode answer")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // Best-effort write; client may have gone
}
