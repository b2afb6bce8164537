// Command inboxctl is a terminal client for the inbox API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"inbox/internal/adapters/http/middleware"
	"inbox/internal/client"
	"inbox/internal/config"
	"inbox/internal/contract"
)

const usage = `usage: inboxctl <command> [args]

commands:
  conversations               list conversations, newest first
  thread <userId>             show the newest messages with userId
  send <userId> <text...>     send a message
  read <userId>               mark everything received from userId as read
  unread                      print the unread count
  delete <userId> <messageId> delete a message you sent
  watch                       print views as push events change them
  token <userId>              issue a development token (needs INBOX_JWT_SECRET)

environment: INBOX_SERVER_URL, INBOX_TOKEN, INBOX_CLIENT_TIMEOUT
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, color.FgRed.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	if cmd == "token" {
		return runToken(args, out)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		return errors.New("INBOX_TOKEN is not set")
	}
	me, err := tokenSubject(cfg.Token)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	pageSize := fs.Int("n", 20, "messages shown per thread")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()

	api := client.NewHTTPClient(cfg.ServerURL, cfg.Token, &http.Client{Timeout: cfg.Timeout})
	s := client.NewSynchronizer(api, me, client.Options{
		PageSize: *pageSize,
		Self:     contract.UserSummary{ID: me, Name: "you"},
	})

	switch cmd {
	case "conversations":
		convs, err := s.Conversations(ctx)
		if err != nil {
			return err
		}
		printConversations(out, convs)
	case "thread":
		if len(args) != 1 {
			return errors.New("thread needs <userId>")
		}
		view, err := s.Thread(ctx, args[0])
		if err != nil {
			return err
		}
		printThread(out, me, view)
	case "send":
		if len(args) < 2 {
			return errors.New("send needs <userId> <text>")
		}
		m, err := s.SendMessage(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s to %s\n", m.ID, displayName(m.Recipient))
	case "read":
		if len(args) != 1 {
			return errors.New("read needs <userId>")
		}
		_, n, err := s.ActivateThread(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "marked %d message(s) read\n", n)
	case "unread":
		n, err := s.UnreadCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, n)
	case "delete":
		if len(args) != 2 {
			return errors.New("delete needs <userId> <messageId>")
		}
		if err := s.DeleteMessage(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", args[1])
	case "watch":
		return watch(ctx, cfg, me, out)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
	return nil
}

// watch keeps a synchronizer running and reprints whatever view a push event invalidates.
func watch(ctx context.Context, cfg config.ClientConfig, me string, out io.Writer) error {
	keys := make(chan client.Key, 64)
	api := client.NewHTTPClient(cfg.ServerURL, cfg.Token, &http.Client{Timeout: cfg.Timeout})
	s := client.NewSynchronizer(api, me, client.Options{
		OnInvalidate: func(k client.Key) {
			select {
			case keys <- k:
			default:
			}
		},
	})
	stopEvents, err := s.Start(ctx, client.NewWebSocketSource(cfg.ServerURL, cfg.Token))
	if err != nil {
		return err
	}
	defer stopEvents()

	n, err := s.UnreadCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "watching as %s, %d unread\n", color.FgCyan.Render(me), n)

	for {
		select {
		case <-ctx.Done():
			return nil
		case k := <-keys:
			stamp := color.FgGray.Render(time.Now().Format(time.TimeOnly))
			switch k.View {
			case client.ViewUnread:
				n, err := s.UnreadCount(ctx)
				if err != nil {
					fmt.Fprintf(out, "%s unread: %v\n", stamp, err)
					continue
				}
				fmt.Fprintf(out, "%s unread: %s\n", stamp, color.FgYellow.Render(n))
			case client.ViewConversations:
				convs, err := s.Conversations(ctx)
				if err != nil {
					fmt.Fprintf(out, "%s conversations: %v\n", stamp, err)
					continue
				}
				fmt.Fprintf(out, "%s conversations changed\n", stamp)
				printConversations(out, convs)
			case client.ViewThread:
				fmt.Fprintf(out, "%s thread with %s changed\n", stamp, k.CounterpartID)
			}
		}
	}
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	ttl := fs.Duration("ttl", middleware.DefaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("token needs <userId>")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("INBOX_JWT_SECRET must be set so the server accepts the token")
	}
	token, err := middleware.NewAuthenticator(cfg.Secret(), cfg.JWTIssuer).IssueToken(fs.Arg(0), *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// tokenSubject reads the user id out of a bearer token. The server verifies
// the signature; the client only needs to know who it is.
func tokenSubject(token string) (string, error) {
	var claims middleware.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse INBOX_TOKEN: %w", err)
	}
	if claims.UserID == "" {
		return "", errors.New("INBOX_TOKEN carries no user id")
	}
	return claims.UserID, nil
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func printConversations(out io.Writer, convs []contract.Conversation) {
	table := newTable(out, []string{"With", "Last message", "Unread", "When"})
	for _, c := range convs {
		unread := ""
		if c.UnreadCount > 0 {
			unread = color.FgYellow.Render(c.UnreadCount)
		}
		table.Append([]string{
			displayName(c.Counterpart),
			preview(c.LastMessage.Content),
			unread,
			c.LastMessage.CreatedAt.Local().Format(time.DateTime),
		})
	}
	table.Render()
}

func printThread(out io.Writer, me string, view client.ThreadView) {
	if view.Offset > 0 {
		fmt.Fprintf(out, "(%d older message(s) not shown)\n", view.Offset)
	}
	table := newTable(out, []string{"ID", "From", "Message", "When", ""})
	for _, m := range view.Messages {
		from := displayName(m.Sender)
		status := ""
		switch {
		case m.SenderID == me:
			from = color.FgCyan.Render("you")
		case m.ReadAt == nil:
			status = color.FgYellow.Render("new")
		}
		table.Append([]string{m.ID, from, preview(m.Content), m.CreatedAt.Local().Format(time.DateTime), status})
	}
	table.Render()
}

func displayName(u contract.UserSummary) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}
