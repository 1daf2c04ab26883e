// Package process supervises subprocesses, in particular the delegate
// workers that own instrument connections in their own process.
//
// A Manager starts one subprocess, captures its output into the log,
// restarts it with exponential backoff when it exits unexpectedly and
// kills it when its health check keeps failing. A worker that exits with
// ExitConfig is not restarted.
//
// A Supervisor holds one Manager per delegate declared with mode
// "process" and starts each worker the first time an instrument attaches:
//
//	sup, err := process.NewSupervisor(ctx, cfg, configPath)
//	if err != nil {
//	    return err
//	}
//	conn := mqttlink.NewConnector(client, mqttlink.WithStarter(sup))
//	defer sup.StopAll()
package process
