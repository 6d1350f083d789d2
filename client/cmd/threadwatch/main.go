// Command threadwatch follows one discussion and prints its reply tree on every change.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/itchan-dev/threadsync/client/apiclient"
	"github.com/itchan-dev/threadsync/client/auth"
	"github.com/itchan-dev/threadsync/client/mutation"
	"github.com/itchan-dev/threadsync/client/realtime"
	"github.com/itchan-dev/threadsync/client/reconcile"
	"github.com/itchan-dev/threadsync/client/tree"
	"github.com/itchan-dev/threadsync/shared/config"
	"github.com/itchan-dev/threadsync/shared/domain"
	"github.com/itchan-dev/threadsync/shared/logger"
)

func main() {
	var (
		apiURL       string
		discussion   string
		configFolder string
	)
	flag.StringVar(&apiURL, "api", "http://localhost:8080", "forum API base URL")
	flag.StringVar(&discussion, "discussion", "", "discussion id to follow")
	flag.StringVar(&configFolder, "config_folder", "", "path to folder with configs, built-in defaults when empty")
	flag.Parse()

	if discussion == "" {
		fmt.Fprintln(os.Stderr, "-discussion is required")
		os.Exit(2)
	}

	cfg := config.Default()
	if configFolder != "" {
		cfg = config.MustLoad(configFolder)
	}
	logger.InitializeWriter(os.Stderr, cfg.Public.LogLevel, cfg.Public.LogJSON)

	identity, err := auth.NewTokenIdentity(os.Getenv("THREADSYNC_TOKEN"))
	if err != nil {
		logger.Log.Error("invalid THREADSYNC_TOKEN", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := apiclient.New(apiURL, identity.Token)
	channel := realtime.NewWsChannel(ctx, wsURL(apiURL), func() http.Header {
		h := http.Header{}
		if token := identity.Token(); token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
		return h
	}, cfg.Public.Realtime)
	defer channel.Close()

	engine := reconcile.New(cfg.Public, client, channel, identity, mutation.Options{})
	go engine.Run(ctx)

	if err := engine.Open(ctx, discussion); err != nil {
		logger.Log.Error("failed to open discussion", "discussion", discussion, "error", err)
		os.Exit(1)
	}

	w := &watcher{engine: engine, id: discussion, vs: tree.NewViewState(), out: os.Stdout}
	w.print(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-engine.Changes():
			if id == discussion {
				w.print(ctx)
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if cmd.name == cmdQuit {
				return
			}
			if err := w.run(ctx, cmd); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

func wsURL(apiURL string) string {
	base := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/ws"
}

type watcher struct {
	engine *reconcile.Engine
	id     domain.DiscussionId
	vs     *tree.ViewState
	out    io.Writer
}

func (w *watcher) print(ctx context.Context) {
	v, err := w.engine.View(ctx, w.id, w.vs)
	if err != nil {
		logger.Log.Error("failed to project discussion", "error", err)
		return
	}
	render(w.out, v, w.engine.Degraded())
}

func (w *watcher) run(ctx context.Context, cmd command) error {
	switch cmd.name {
	case cmdReply:
		t, err := w.engine.CreateReply(ctx, w.id, cmd.text, cmd.target)
		if err != nil {
			return err
		}
		go w.report(t)
	case cmdLike:
		target := cmd.target
		if target == "" {
			target = w.id
		}
		t, err := w.engine.ToggleLike(ctx, w.id, target)
		if err != nil {
			return err
		}
		go w.report(t)
	case cmdExpand:
		w.vs.Toggle(cmd.target)
		w.print(ctx)
	case cmdRefresh:
		return w.engine.Refresh(ctx)
	case cmdReconnect:
		w.engine.Reconnect()
	}
	return nil
}

// report surfaces failures; successes show up in the next print.
func (w *watcher) report(t *reconcile.Ticket) {
	out := <-t.Done
	if out.Err != nil {
		fmt.Fprint(os.Stderr, failureMessage(out))
	}
}
