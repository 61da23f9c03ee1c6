// Command lectern is a terminal viewer for the realtime layer: it connects
// to a lecture-streaming server, watches one stream, and prints chat, poll,
// and viewer updates as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lectern/lectern/chat"
	"github.com/lectern/lectern/history"
	"github.com/lectern/lectern/watch"
	"github.com/lectern/lectern/ws"
)

// envConfig carries defaults that are awkward on the command line (tokens);
// flags override.
type envConfig struct {
	WsURL  string `env:"LECTERN_WS_URL" envDefault:"ws://127.0.0.1:8000/ws"`
	APIURL string `env:"LECTERN_API_URL"`
	Token  string `env:"LECTERN_TOKEN"`
}

var (
	flagWsURL          = flag.String("ws-url", "", "websocket endpoint, overrides $LECTERN_WS_URL")
	flagAPIURL         = flag.String("api-url", "", "REST base for history load, overrides $LECTERN_API_URL; empty disables history")
	flagStream         = flag.String("stream", "", "stream id to watch")
	flagUser           = flag.String("user", "viewer", "current user id")
	flagPrivileged     = flag.Bool("privileged", false, "moderator view: keep retracted messages soft-hidden")
	flagMetricsAddr    = flag.String("metrics-addr", "127.0.0.1:9095", "prometheus listen address")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func errorf(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}

func run() int {
	defer glog.Flush()

	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return errorf("env: %v", err)
	}
	wsURL, apiURL := ec.WsURL, ec.APIURL
	if *flagWsURL != "" {
		wsURL = *flagWsURL
	}
	if *flagAPIURL != "" {
		apiURL = *flagAPIURL
	}
	if *flagStream == "" {
		return errorf("--stream is required")
	}

	header := http.Header{}
	if ec.Token != "" {
		header.Set("Authorization", "Bearer "+ec.Token)
	}

	if !*flagDisableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
		go func() {
			if err := http.ListenAndServe(*flagMetricsAddr, mux); err != nil {
				glog.Errorf("metrics: %v", err)
			}
		}()
	}

	transport := ws.NewTransport(ws.Config{URL: wsURL, Header: header})
	defer transport.Close()
	transport.OnStateChange(func(connected bool) {
		if connected {
			fmt.Println("-- connected --")
		} else {
			fmt.Println("-- disconnected, reconnecting --")
		}
	})

	seen := make(map[int64]bool)
	var session *watch.Session
	session = watch.NewSession(transport, watch.Config{
		StreamID:   *flagStream,
		UserID:     *flagUser,
		Privileged: *flagPrivileged,
		History:    historyClient(apiURL, header),
		Notify: func(u watch.Update) {
			render(session, u, seen)
		},
	})
	defer session.Close()
	transport.OnReconnect(session.Resubscribe)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := session.Start(ctx)
	cancel()
	if err != nil {
		return errorf("start: %v", err)
	}

	glog.Infof("watching stream %s on %s", *flagStream, wsURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	fmt.Println("bye")
	return 0
}

func historyClient(apiURL string, header http.Header) *history.Client {
	if apiURL == "" {
		return nil
	}
	return history.NewClient(apiURL, header, nil)
}

func render(session *watch.Session, u watch.Update, seen map[int64]bool) {
	if session == nil {
		return
	}
	if u&watch.UpdateChat != 0 {
		for _, m := range session.Chat().Messages(chat.SortLive) {
			if seen[m.ID] || !m.Visible {
				continue
			}
			seen[m.ID] = true
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.Username, m.Text)
			for _, r := range m.Replies {
				fmt.Printf("    ↳ %s: %s\n", r.Username, r.Text)
			}
		}
	}
	if u&watch.UpdatePoll != 0 {
		if p, ok := session.Polls().Active(); ok {
			fmt.Printf("** poll: %s\n", p.Question)
			for _, o := range p.Options {
				fmt.Printf("   [%d] %s (%d votes)\n", o.ID, o.Answer, o.Votes)
			}
		}
	}
	if u&watch.UpdateMeta != 0 {
		meta := session.Meta()
		fmt.Printf("-- %d watching, live=%v --\n", meta.Viewers, meta.Live)
	}
}
