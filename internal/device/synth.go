package device

import (
	"math/rand/v2"
	"strings"
)

const (
	letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits  = "0123456789"
)

// confusable maps characters to the ones an OCR engine typically mistakes them for.
var confusable = map[byte]byte{
	'O': '0', '0': 'O',
	'I': '1', '1': 'I',
	'B': '8', '8': 'B',
	'S': '5', '5': 'S',
	'Z': '2', '2': 'Z',
	'G': '6', '6': 'G',
}

// Synthesize draws one recognition attempt using the current simulation
// settings.
//
// The attempt succeeds with probability SuccessRate%. A successful read takes
// a plate from the predefined list (or generates one from PlatePattern) and,
// with probability ErrorRate%, is perturbed: one character is misread and the
// reliability drops. Successful reads become LastRecognition and bump the
// recognitions counter. A miss still consumes a recognition id.
//
// sessionID is 0 for unsolicited recognitions.
func (tx *Tx) Synthesize(cameraID string, sessionID uint64) Recognition {
	sim := tx.State.Simulation
	rng := tx.store.rng

	tx.State.RecognitionSeq++
	rec := Recognition{
		ID:        tx.State.RecognitionSeq,
		SessionID: sessionID,
		CameraID:  cameraID,
		Context:   sim.Context,
		Timestamp: tx.now,
	}

	if rng.IntN(100) >= sim.SuccessRate {
		return rec
	}

	plate := drawPlate(rng, sim)
	reliability := sim.Reliability
	if sim.ErrorRate > 0 && rng.IntN(100) < sim.ErrorRate {
		plate, reliability = perturb(rng, plate, reliability)
	}

	rec.Plate = plate
	rec.Reliability = reliability
	rec.Image = SampleImage
	_, rec.InDatabase = tx.State.Database[plate]

	last := rec
	tx.State.LastRecognition = &last
	tx.IncrementCounter(CounterRecognitions)
	return rec
}

// CurrentRecognition returns LastRecognition, synthesizing one on the default
// camera when none exists yet. Fails with ErrNoRecognition when that attempt
// reads nothing.
func (tx *Tx) CurrentRecognition() (Recognition, error) {
	if tx.State.LastRecognition != nil {
		return *tx.State.LastRecognition, nil
	}
	rec := tx.Synthesize(tx.State.Simulation.CameraID, 0)
	if !rec.Read() {
		return Recognition{}, ErrNoRecognition
	}
	return rec, nil
}

// ResetEngine forgets the last recognition.
func (tx *Tx) ResetEngine() {
	tx.State.LastRecognition = nil
}

func drawPlate(rng *rand.Rand, sim Settings) string {
	if len(sim.Plates) > 0 {
		return sim.Plates[rng.IntN(len(sim.Plates))]
	}
	return generatePlate(rng, sim.PlatePattern)
}

// generatePlate expands a pattern: L is a random letter, D a random digit,
// anything else is copied.
func generatePlate(rng *rand.Rand, pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case 'L':
			b.WriteByte(letters[rng.IntN(len(letters))])
		case 'D':
			b.WriteByte(digits[rng.IntN(len(digits))])
		default:
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}

// perturb misreads one alphanumeric character and lowers reliability by 10-40.
func perturb(rng *rand.Rand, plate string, reliability int) (string, int) {
	var candidates []int
	for i := 0; i < len(plate); i++ {
		if isAlnum(plate[i]) {
			candidates = append(candidates, i)
		}
	}

	reliability -= 10 + rng.IntN(31)
	if reliability < 0 {
		reliability = 0
	}

	if len(candidates) == 0 {
		return plate, reliability
	}

	buf := []byte(plate)
	i := candidates[rng.IntN(len(candidates))]
	buf[i] = misread(rng, buf[i])
	return string(buf), reliability
}

func misread(rng *rand.Rand, c byte) byte {
	if r, ok := confusable[c]; ok {
		return r
	}
	pool := letters
	if c >= '0' && c <= '9' {
		pool = digits
	}
	for {
		r := pool[rng.IntN(len(pool))]
		if r != c {
			return r
		}
	}
}

func isAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
