package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go-txstream-sse/internal/client"
	"go-txstream-sse/internal/infrastructure/logger"
)

type watchOptions struct {
	client.Options
	JSON   bool
	Follow bool
}

func watchOptionsFromFlags(txRef string) (watchOptions, error) {
	delay, err := time.ParseDuration(retryDelay)
	if err != nil {
		return watchOptions{}, fmt.Errorf("invalid --retry-delay: %w", err)
	}
	logCfg := logger.NewConfig(logLevel, "text", "stderr", "")
	return watchOptions{
		Options: client.Options{
			BaseURL:     baseURL,
			TxRef:       txRef,
			AccessToken: accessToken,
			MaxAttempts: maxAttempts,
			RetryDelay:  delay,
			Logger:      logger.NewLogrusLogger(logCfg),
		},
		JSON:   jsonOutput,
		Follow: follow,
	}, nil
}

// watch prints updates until ctx ends, the stream gives up, or (without
// Follow) the transaction reaches a final status.
func watch(ctx context.Context, opts watchOptions, out io.Writer) error {
	var (
		mu     sync.Mutex
		result error
		done   = make(chan struct{})
		once   sync.Once
	)
	finish := func(err error) {
		once.Do(func() {
			result = err
			close(done)
		})
	}

	emit := func(v any, text string) {
		mu.Lock()
		defer mu.Unlock()
		if opts.JSON {
			_ = json.NewEncoder(out).Encode(v)
			return
		}
		fmt.Fprintln(out, text)
	}

	opts.OnStatusUpdate = func(u client.StatusUpdate) {
		line := fmt.Sprintf("%s  %s", u.TxRef, u.Status)
		if u.Amount != nil {
			line += fmt.Sprintf("  amount=%v", *u.Amount)
		}
		emit(u, line)
		if u.Status.IsTerminal() && !opts.Follow {
			finish(nil)
		}
	}
	opts.OnError = func(err error) {
		if errors.Is(err, client.ErrMaxAttempts) {
			finish(err)
			return
		}
		emit(map[string]string{"error": err.Error()}, "error: "+err.Error())
	}

	r, err := client.New(opts.Options)
	if err != nil {
		return err
	}
	r.Connect()
	defer r.Disconnect()

	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return result
	}
}
