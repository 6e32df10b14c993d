// Package runtime wires an engine, a native registry and per-resource
// linker Contexts into a Host.
//
//	cfg, err := runtime.LoadConfig("scripts.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h, err := runtime.New(ctx, cfg, runtime.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close(ctx)
//
//	hostapi.Register(h.Registry(), hostapi.Options{})
//	if err := h.LoadConfigured(ctx); err != nil {
//	    logger.Warn("some scripts failed", zap.Error(err))
//	}
//
// Natives must be registered before the first load; imports are bound once,
// at load time.
package runtime
