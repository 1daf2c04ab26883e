// Package config loads instrumentd's YAML configuration.
//
// Load starts from built-in defaults, applies the file, then applies
// INSTRUMENTS_* environment variables, and finally validates the result,
// reporting every problem at once. Secrets (the MQTT password, the
// InfluxDB token, the API JWT secret) are best supplied through the
// environment.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Delegates {
//	    fmt.Println(d.Name, d.Mode)
//	}
package config
