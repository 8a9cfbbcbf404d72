/*
Package log provides structured logging for the deployment control plane
using zerolog.

It wraps zerolog to give every component a component-scoped logger with
consistent JSON (production) or console (development) output, chosen by
Config.JSONOutput. The package-level Init must run once at process start
before any of the Info/Debug/Warn/Error/Fatal helpers are used.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("control plane starting")

	deployLog := log.WithComponent("deploy")
	deployLog.Info().Str("tuple", t.String()).Msg("rollout started")

	hostLog := log.WithHost(hostID)
	hostLog.Error().Err(err).Msg("container failed to start")

WithTuple and WithRollout scope a logger to a (tenant, project, env,
service) tuple or a rollout ID respectively, for call sites that want
that context on every subsequent line without repeating it.

# Levels

Debug is for development and troubleshooting only; Info is the default
production level; Warn and Error cover degraded and failed operations;
Fatal logs and calls os.Exit(1), reserved for startup failures the
process cannot recover from (a malformed cluster config, an
unreadable SSH key).

Never log secret values (passwords, API tokens, the AES key) — callers
that handle pkg/secrets or cluster credentials must log the key name,
never the value.
*/
package log
