// Package config handles loading and validating the Jeedom bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The Jeedom API key and MQTT password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The override document referenced by jeedom.config_path is a separate file
// owned by the overrides package; this package only carries its location.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Jeedom.RPCURL())
package config
