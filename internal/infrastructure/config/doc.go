// Package config handles loading and validating the ANPR simulator configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The simulator runs with no file at all: every section has defaults that
// reproduce the behaviour of the reference device (success rate 75%,
// context "F", plate reliability 80, barrier closing after 5 seconds).
//
// Security Considerations:
//   - Broker and InfluxDB credentials should be set via environment variables
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Name)
package config
