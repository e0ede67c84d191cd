package plugin

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// Hook names used in timeout errors and metrics
const (
	HookInitialize   = "initialize"
	HookShutdown     = "shutdown"
	HookStartService = "start_service"
	HookStopService  = "stop_service"
	HookHandleEvent  = "handle_event"
)

type hookRunner func(ctx context.Context, pluginID, hook string, timeout time.Duration, fn func(ctx context.Context) error) error

// runHook calls fn with a bounded budget. On expiry it returns a
// *HookTimeoutError and leaves the goroutine running; plugin code is not
// assumed to honor cancellation. Panics are returned as errors.
func runHook(ctx context.Context, pluginID, hook string, timeout time.Duration, fn func(ctx context.Context) error) error {
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("plugin %s panicked in %s: %v\n%s", pluginID, hook, r, debug.Stack())
			}
		}()
		done <- fn(hookCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-hookCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &HookTimeoutError{PluginID: pluginID, Hook: hook, Timeout: timeout}
	}
}

// hookTimeout returns the manifest override or the host default
func hookTimeout(manifest *PluginManifest, def time.Duration) time.Duration {
	if manifest != nil && manifest.Settings.HookTimeout != "" {
		if d, err := time.ParseDuration(manifest.Settings.HookTimeout); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// startInstance runs Initialize and, for services, StartService
func startInstance(ctx context.Context, run hookRunner, inst *Instance, host HostContext, manifest *PluginManifest, timeout time.Duration) error {
	err := run(ctx, manifest.ID, HookInitialize, timeout, func(ctx context.Context) error {
		return inst.Plugin.Initialize(ctx, host)
	})
	if err != nil {
		return wrapHookError(manifest, HookInitialize, err)
	}

	if svc, ok := inst.Plugin.(Service); ok && manifest.Type == TypeService {
		err := run(ctx, manifest.ID, HookStartService, timeout, svc.StartService)
		if err != nil {
			// best effort cleanup of the initialized instance
			_ = run(ctx, manifest.ID, HookShutdown, timeout, inst.Plugin.Shutdown)
			return wrapHookError(manifest, HookStartService, err)
		}
	}
	return nil
}

// stopInstance runs StopService for services, then Shutdown. Both are
// attempted; the first error is returned.
func stopInstance(ctx context.Context, run hookRunner, inst *Instance, manifest *PluginManifest, timeout time.Duration) error {
	var first error
	if svc, ok := inst.Plugin.(Service); ok && manifest.Type == TypeService {
		if err := run(ctx, manifest.ID, HookStopService, timeout, svc.StopService); err != nil {
			first = wrapHookError(manifest, HookStopService, err)
		}
	}
	if err := run(ctx, manifest.ID, HookShutdown, timeout, inst.Plugin.Shutdown); err != nil && first == nil {
		first = wrapHookError(manifest, HookShutdown, err)
	}
	return first
}

func wrapHookError(manifest *PluginManifest, hook string, err error) error {
	if _, ok := err.(*HookTimeoutError); ok {
		return err
	}
	return &LoadError{PluginID: manifest.ID, EntryPoint: manifest.EntryPoint, Op: hook, Err: err}
}
