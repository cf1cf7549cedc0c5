package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mukasc/genexus-ai-assistant/api"
	"github.com/mukasc/genexus-ai-assistant/chat"
	"github.com/mukasc/genexus-ai-assistant/tui"
)

const chatTitle = "GeneXus AI Assistant"

func newChatCommand(a *app) *cobra.Command {
	var question string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about the indexed documentation",
		Long: `Opens the terminal chat, or answers a single --question and exits. Every
question is answered on its own; earlier turns are shown but never sent to
the model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			svc, idx, err := rt.chatService(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			if cmd.Flags().Changed("question") {
				resp, err := svc.Answer(ctx, question)
				if err != nil {
					return err
				}
				printAnswer(cmd.OutOrStdout(), resp)
				return nil
			}
			return tui.Run(ctx, svc, fmt.Sprintf("%s · %s", chatTitle, svc.Template()))
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "answer one question and exit")
	return cmd
}

func printAnswer(w io.Writer, resp chat.Response) {
	fmt.Fprintln(w, strings.TrimRight(resp.Answer, "\n"))
	if len(resp.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, src := range resp.Sources {
		line := fmt.Sprintf("%d. [%s] %s", i+1, src.Kind, src.Source)
		if src.Page > 0 {
			line += fmt.Sprintf(" p.%d", src.Page)
		}
		fmt.Fprintf(w, "%s (%.3f)\n", line, src.Score)
	}
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat API and web page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			svc, idx, err := rt.chatService(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			if addr == "" {
				addr = rt.cfg.Server.Address
			}
			handler := api.New(svc, idx, rt.logger, api.WithMetrics(rt.metrics))
			return serveHTTP(ctx, addr, handler, rt)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, rt *runtime) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Printf("serving on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		rt.logger.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
