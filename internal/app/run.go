package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/querygrid/internal/api"
	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/service"
)

// Run executes the application: serve mode when an API port is configured,
// otherwise a single composition run to completion.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.cfg.APIPort > 0 {
		return a.serve(ctx)
	}
	return a.runOnce(ctx)
}

// runOnce starts the configured composition, waits for it, and prints the
// final snapshot. A non-success outcome is reported as an error so the CLI
// exits non-zero.
func (a *App) runOnce(ctx context.Context) error {
	id := a.cfg.CompositionID
	if id == "" {
		ids := a.compositions.CompositionIDs()
		if len(ids) != 1 {
			return fmt.Errorf("multiple compositions defined (%v), select one with -composition", ids)
		}
		id = ids[0]
	}

	window, err := parseWindow(a.cfg.WindowStart, a.cfg.WindowEnd)
	if err != nil {
		return err
	}

	runID, err := a.svc.StartCompositionRun(ctx, service.RunRequest{
		CompositionID: id,
		Window:        window,
		Parameters:    a.cfg.Parameters,
		BestEffort:    a.cfg.BestEffort,
		Workers:       a.cfg.Workers,
	})
	if err != nil {
		return err
	}
	a.logger.Info("Composition run started.", "composition_id", id, "run_id", runID)

	snap, err := a.svc.Wait(ctx, runID)
	if err != nil {
		// Interrupted; ask the run to stop and wait for it to settle.
		a.logger.Warn("Interrupted, cancelling run.", "run_id", runID)
		if cerr := a.svc.CancelRun(runID); cerr != nil {
			return cerr
		}
		drain, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snap, _ = a.svc.Wait(drain, runID)
	}

	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return err
	}
	if snap.Status != composition.RunSucceeded {
		return fmt.Errorf("composition run finished with status %s", snap.Status)
	}
	return nil
}

// serve runs the HTTP API until the context is cancelled.
func (a *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.APIPort),
		Handler: api.New(a.svc),
		// Every request context carries the app logger.
		BaseContext: func(net.Listener) context.Context {
			return ctxlog.WithLogger(context.Background(), a.logger)
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("API server listening.", "port", a.cfg.APIPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func parseWindow(start, end string) (composition.TimeWindow, error) {
	if start == "" && end == "" {
		return composition.TimeWindow{}, nil
	}
	s, err := time.Parse(composition.WindowTimeFormat, start)
	if err != nil {
		return composition.TimeWindow{}, fmt.Errorf("invalid window start %q: %w", start, err)
	}
	e, err := time.Parse(composition.WindowTimeFormat, end)
	if err != nil {
		return composition.TimeWindow{}, fmt.Errorf("invalid window end %q: %w", end, err)
	}
	if !e.After(s) {
		return composition.TimeWindow{}, fmt.Errorf("window end must be after start")
	}
	return composition.TimeWindow{Start: s, End: e}, nil
}
