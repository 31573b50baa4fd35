// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Command rtpcmdd runs an asynchronous control command processor, on a unix
// stream or UDP control socket, answering a minimal command protocol.
//
// Usage:
//
//	rtpcmdd -config /etc/rtpcmdd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joeycumines/go-cmdasync"
	"github.com/joeycumines/go-cmdasync/internal/ctlproto"
	"github.com/joeycumines/go-cmdasync/internal/netio"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String(`config`, ``, `path to the YAML config file`)
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtpcmdd: %v\n", err)
		return 2
	}
	level, _ := config.Level()

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, config, logger); err != nil {
		logger.Crit().
			Err(err).
			Log(`rtpcmdd exited with error`)
		return 1
	}
	return 0
}

func serve(ctx context.Context, config Config, logger *logiface.Logger[logiface.Event]) error {
	control, err := openControl(config)
	if err != nil {
		return err
	}
	defer control.Close()

	queue := netio.New(
		netio.WithCapacity(config.SendQueue.Capacity),
		netio.WithMaxBatch(config.SendQueue.MaxBatch),
		netio.WithLogger(logger),
	)

	handler, err := ctlproto.NewHandler(
		control.mode,
		queue,
		ctlproto.WithLogger(logger),
		// idle clients may only hold the worker for a quarter of a tick
		ctlproto.WithReadTimeout(time.Duration(float64(time.Second)/(4*config.TickFrequency))),
	)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registerQueueMetrics(registry, queue)

	// the lock shared with everything else that mutates relay state
	var globalLock sync.Mutex

	processor, err := cmdasync.New(
		cmdasync.Config{
			FD:            control.fd,
			Mode:          control.mode,
			Handler:       handler,
			Lock:          &globalLock,
			TickFrequency: config.TickFrequency,
			Pump:          queue,
		},
		cmdasync.WithLogger(logger),
		cmdasync.WithMetrics(registry),
		cmdasync.WithLoadDecay(config.LoadDecay),
	)
	if err != nil {
		return err
	}
	handler.Attach(processor)

	logger.Info().
		Str(`control`, config.Control).
		Str(`mode`, control.mode.String()).
		Float64(`tick_frequency`, config.TickFrequency).
		Log(`listening for commands`)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runTicker(ctx, processor, config.TickFrequency)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		return processor.Shutdown(shutdownCtx)
	})

	if config.Metrics.Listen != `` {
		mux := http.NewServeMux()
		mux.Handle(config.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
		server := &http.Server{
			Addr:              config.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf(`metrics server: %w`, err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Notice().
		Float64(`load`, processor.CurrentLoad()).
		Uint64(`commands`, processor.Stats().Commands).
		Log(`shut down`)
	return err
}

// runTicker publishes a monotonically increasing tick, at the given
// frequency, until ctx is done.
func runTicker(ctx context.Context, processor *cmdasync.Processor, frequency float64) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / frequency))
	defer ticker.Stop()
	for tick := int64(1); ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processor.Wakeup(tick)
		}
	}
}

func registerQueueMetrics(registry prometheus.Registerer, queue *netio.Queue) {
	const namespace = `rtpcmdd`
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      `send_queue_pending`,
			Help:      `Number of replies waiting to be sent.`,
		}, func() float64 { return float64(queue.Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      `send_queue_sent_total`,
			Help:      `Number of replies sent.`,
		}, func() float64 { return float64(queue.Stats().Sent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      `send_queue_dropped_total`,
			Help:      `Number of replies dropped because the queue was full.`,
		}, func() float64 { return float64(queue.Stats().Dropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      `send_queue_failed_total`,
			Help:      `Number of replies that could not be sent.`,
		}, func() float64 { return float64(queue.Stats().Failed) }),
	)
}

// controlSocket is the open control socket, and the duplicated descriptor
// handed to the processor.
type controlSocket struct {
	closer interface{ Close() error }
	file   *os.File
	fd     int
	mode   cmdasync.Mode
}

func openControl(config Config) (*controlSocket, error) {
	network, address, err := config.ControlAddr()
	if err != nil {
		return nil, err
	}

	var (
		file   *os.File
		closer interface{ Close() error }
	)
	if network == `unix` {
		// stale socket from a previous run
		_ = os.Remove(address)
		listener, listenErr := net.Listen(network, address)
		if listenErr != nil {
			return nil, listenErr
		}
		closer = listener
		file, err = listener.(*net.UnixListener).File()
	} else {
		conn, listenErr := net.ListenPacket(network, address)
		if listenErr != nil {
			return nil, listenErr
		}
		closer = conn
		file, err = conn.(*net.UDPConn).File()
	}
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &controlSocket{
		closer: closer,
		file:   file,
		fd:     int(file.Fd()),
		mode:   config.Mode(),
	}, nil
}

// Close closes the control socket. It must only be called after the
// processor has stopped.
func (x *controlSocket) Close() error {
	return errors.Join(x.file.Close(), x.closer.Close())
}
