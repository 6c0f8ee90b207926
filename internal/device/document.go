package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// possibleContexts is advertised in getInfos.
const possibleContexts = "F>OTHERS"

// defaultConfigTree builds the power-on configuration tree.
//
// Only cameras.camera.anpr @plateReliability and @context are interpreted;
// every other attribute is opaque and round-trips unchanged.
func defaultConfigTree(st *State) map[string]any {
	tree := map[string]any{
		"device": map[string]any{
			"@name":                  st.Identity.Name,
			"@installationHeight_cm": "100",
		},
		"network": map[string]any{
			"interface": map[string]any{
				"@ipAddress": st.Identity.IPAddress,
				"@ipMask":    "255.255.255.0",
			},
			"clp": map[string]any{
				"@port": strconv.Itoa(st.Identity.HTTPPort),
			},
			"ssws": map[string]any{
				"@httpPort": strconv.Itoa(st.Identity.HTTPPort),
			},
		},
		"cameras": map[string]any{
			"camera": map[string]any{
				"anpr": map[string]any{
					"@squarePlates": "0",
				},
			},
		},
		"database": map[string]any{
			"@enabled":    "0",
			"@openForAll": "0",
		},
		"io": map[string]any{
			"defaultImpulse": map[string]any{
				"@pulseMode":   "rising",
				"@duration_ms": "500",
			},
		},
	}
	st.Config = tree
	writeANPRNode(st)
	return tree
}

// anprNode returns cameras.camera.anpr, creating missing levels.
// Returns nil if an intermediate level exists but is not an object.
func anprNode(tree map[string]any) map[string]any {
	node := tree
	for _, key := range []string{"cameras", "camera", "anpr"} {
		next, ok := node[key]
		if !ok {
			child := make(map[string]any)
			node[key] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// writeANPRNode mirrors the interpreted settings back into the tree.
func writeANPRNode(st *State) {
	node := anprNode(st.Config)
	if node == nil {
		return
	}
	node["@context"] = st.Simulation.Context + ">OTHERS"
	node["@plateReliability"] = strconv.Itoa(st.Simulation.Reliability)
}

// interpretANPRNode validates the interpreted attributes of a merged tree
// and copies them into settings.
func interpretANPRNode(tree map[string]any, settings *Settings) error {
	node := anprNode(tree)
	if node == nil {
		return fmt.Errorf("%w: cameras.camera.anpr must be an object", ErrInvalidConfig)
	}

	if raw, ok := node["@plateReliability"]; ok {
		r, err := parsePercent(raw)
		if err != nil {
			return fmt.Errorf("%w: @plateReliability: %v", ErrInvalidConfig, err)
		}
		settings.Reliability = r
	}

	if raw, ok := node["@context"]; ok {
		s, isString := raw.(string)
		if !isString {
			return fmt.Errorf("%w: @context must be a string", ErrInvalidConfig)
		}
		ctx, _, _ := strings.Cut(s, ">")
		ctx = strings.TrimSpace(ctx)
		if ctx == "" {
			return fmt.Errorf("%w: @context is empty", ErrInvalidConfig)
		}
		settings.Context = ctx
	}
	return nil
}

// parsePercent accepts a JSON number or a decimal string in 0..100.
func parsePercent(v any) (int, error) {
	var n int
	switch val := v.(type) {
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", val)
		}
		n = parsed
	case float64:
		if val != math.Trunc(val) {
			return 0, fmt.Errorf("not an integer: %v", val)
		}
		n = int(val)
	case int:
		n = val
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
	if n < 0 || n > 100 {
		return 0, fmt.Errorf("%d out of range 0-100", n)
	}
	return n, nil
}

// mergeTree deep-merges src into dst. Objects merge recursively; any other
// value replaces what was there.
func mergeTree(dst, src map[string]any) {
	for k, v := range src {
		srcChild, srcIsMap := v.(map[string]any)
		dstChild, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeTree(dstChild, srcChild)
			continue
		}
		dst[k] = deepCopyValue(v)
	}
}

// configDocument is the body of getConfig and configChanges.
func configDocument(st *State) map[string]any {
	return deepCopyMap(st.Config)
}

// infosDocument is the body of getInfos and infoChanges.
func infosDocument(st *State) map[string]any {
	barrier := map[string]any{
		"@open": st.BarrierOpen,
	}
	if st.BarrierOpen {
		barrier["@closeDate"] = strconv.FormatInt(st.BarrierCloseDeadline.UnixMilli(), 10)
	}

	counters := make(map[string]any, len(st.Counters))
	for name, v := range st.Counters {
		counters["@"+name] = v
	}

	return map[string]any{
		"sensor": map[string]any{
			"@type":            st.Identity.Type,
			"@firmwareVersion": st.Identity.FirmwareVersion,
			"@serial":          st.Identity.Serial,
			"@macAddress":      st.Identity.MACAddress,
			"@status":          "RUNNING",
			"@locked":          st.Locked,
		},
		"cameras": map[string]any{
			"camera": map[string]any{
				"@id": st.Simulation.CameraID,
				"enabledAlgorithms": map[string]any{
					"anpr":    nil,
					"trigger": nil,
				},
			},
		},
		"network": map[string]any{
			"interfaceWifi": map[string]any{
				"@macAddress": st.Identity.MACAddress,
				"@connected":  true,
			},
		},
		"security": map[string]any{
			"@lockPasswordNeeded": st.LockPasswordSet(),
			"@rsaCrypted":         false,
		},
		"anpr": map[string]any{
			"@version":          st.Identity.FirmwareVersion,
			"@possibleContexts": possibleContexts,
		},
		"barrier":  barrier,
		"counters": counters,
	}
}

// ConfigDocument returns the getConfig body for a snapshot.
func (s *State) ConfigDocument() map[string]any {
	return configDocument(s)
}

// InfosDocument returns the getInfos body for a snapshot.
func (s *State) InfosDocument() map[string]any {
	return infosDocument(s)
}
