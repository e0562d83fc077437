package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chatdesk/chatdesk/internal/bus"
	"github.com/chatdesk/chatdesk/internal/config"
	"github.com/chatdesk/chatdesk/internal/gateway"
	"github.com/chatdesk/chatdesk/internal/logging"
	"github.com/chatdesk/chatdesk/internal/model"
	"github.com/chatdesk/chatdesk/internal/profile"
	"github.com/chatdesk/chatdesk/internal/realtime"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewCLI()
	gw := gateway.NewClient(cfg.API.BaseURL, cfg.API.Token, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "conversations":
		cmdConversations(ctx, gw, args[1:], *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: deskctl messages <conversation> [page]")
			os.Exit(1)
		}
		cmdMessages(ctx, gw, args[1], args[2:], *jsonFlag)
	case "join":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: deskctl join <conversation>")
			os.Exit(1)
		}
		cmdJoin(ctx, gw, args[1], *jsonFlag)
	case "close":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: deskctl close <conversation>")
			os.Exit(1)
		}
		cmdClose(ctx, gw, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: deskctl send <conversation> <content>")
			os.Exit(1)
		}
		cmdSend(ctx, gw, args[1], args[2], *jsonFlag)
	case "watch":
		cmdWatch(cfg, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: deskctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  conversations [page]          List conversations")
	fmt.Fprintln(os.Stderr, "  messages <conversation> [page]  List messages of a conversation")
	fmt.Fprintln(os.Stderr, "  join <conversation>           Join a conversation as agent")
	fmt.Fprintln(os.Stderr, "  close <conversation>          Close a conversation")
	fmt.Fprintln(os.Stderr, "  send <conversation> <content>   Send an agent message")
	fmt.Fprintln(os.Stderr, "  watch                         Stream realtime events to stdout")
}

func parsePage(args []string) int {
	if len(args) == 0 {
		return 1
	}
	page, err := strconv.Atoi(args[0])
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func cmdConversations(ctx context.Context, gw *gateway.Client, args []string, jsonOut bool) {
	convs, pg, err := gw.ListConversations(ctx, parsePage(args), 20, "last_message_at")
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"conversations": convs, "pagination": pg})
		return
	}
	for _, c := range convs {
		last := ""
		if c.LastMessageAt != nil {
			last = c.LastMessageAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  %-12s  %4d msgs  %s\n", c.UUID, c.Status, c.MessageCount, last)
	}
	fmt.Printf("page %d/%d (%d total)\n", pg.Page, pages(pg), pg.Total)
}

func cmdMessages(ctx context.Context, gw *gateway.Client, conversation string, args []string, jsonOut bool) {
	msgs, pg, err := gw.GetMessages(ctx, conversation, parsePage(args), 50)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"messages": msgs, "pagination": pg})
		return
	}
	// Server pages are newest first; print oldest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		fmt.Printf("[%s] %-9s %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Type, m.Content)
	}
	fmt.Printf("page %d/%d (%d total)\n", pg.Page, pages(pg), pg.Total)
}

func cmdJoin(ctx context.Context, gw *gateway.Client, conversation string, jsonOut bool) {
	msg, err := gw.JoinConversation(ctx, conversation)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("joined %s\n", conversation)
}

func cmdClose(ctx context.Context, gw *gateway.Client, conversation string, jsonOut bool) {
	msg, err := gw.CloseConversation(ctx, conversation)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("closed %s\n", conversation)
}

func cmdSend(ctx context.Context, gw *gateway.Client, conversation, content string, jsonOut bool) {
	msg, err := gw.SendAgentMessage(ctx, conversation, content)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("sent %s\n", msg.UUID)
}

// cmdWatch subscribes to the conversation channel and prints decoded
// events until interrupted.
func cmdWatch(cfg *config.Config, jsonOut bool) {
	b := bus.New()
	manager := realtime.NewManager(b, logging.NewCLI())

	creds := realtime.Credentials{Endpoint: cfg.Realtime.Endpoint, Key: cfg.Realtime.Key}
	if creds.Endpoint == "" || creds.Key == "" {
		fmt.Fprintln(os.Stderr, "error: realtime endpoint and key must be configured")
		os.Exit(1)
	}

	handlers := map[string]realtime.HandlerFunc{
		realtime.EventMessageCreated:      watchHandler(realtime.EventMessageCreated, jsonOut),
		realtime.EventConversationCreated: watchHandler(realtime.EventConversationCreated, jsonOut),
	}

	unsubscribe := manager.Subscribe(creds,
		realtime.ConversationChannel(cfg.CompanyID), handlers)
	defer unsubscribe()
	defer manager.Close()

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", realtime.ConversationChannel(cfg.CompanyID))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func watchHandler(name string, jsonOut bool) realtime.HandlerFunc {
	return func(data json.RawMessage) {
		evt, err := realtime.Decode(name, data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "malformed %s event: %v\n", name, err)
			return
		}
		if evt == nil {
			return
		}
		if jsonOut {
			outputJSON(map[string]any{"event": name, "data": evt})
			return
		}
		switch e := evt.(type) {
		case *realtime.MessageCreated:
			fmt.Printf("[%s] message in %s: %s\n",
				time.Now().Format("15:04:05"), e.ConversationUUID, e.Message.Content)
		case *realtime.ConversationCreated:
			fmt.Printf("[%s] new conversation %s\n",
				time.Now().Format("15:04:05"), e.Conversation.UUID)
		}
	}
}

func pages(pg model.Pagination) int {
	if pg.PageSize <= 0 {
		return 1
	}
	n := pg.Total / pg.PageSize
	if pg.Total%pg.PageSize != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
