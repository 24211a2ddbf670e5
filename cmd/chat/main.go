package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"parentlink-client/internal/api"
	"parentlink-client/internal/config"
	"parentlink-client/internal/credentials"
	"parentlink-client/internal/models"
	"parentlink-client/internal/realtime"
	"parentlink-client/internal/session"

	"github.com/google/uuid"
)

// A minimal terminal front-end for the messaging core: logs in, opens one
// conversation, and bridges stdin lines to the session controller. Everything
// it renders comes out of the controller's state, never straight off the
// wire.
func main() {
	var (
		email    = flag.String("email", "", "account email")
		password = flag.String("password", "", "account password")
		register = flag.Bool("register", false, "register a new account instead of logging in")
		username = flag.String("username", "", "username (only used with -register)")
		peer     = flag.String("peer", "", "username of the person to chat with")
	)
	flag.Parse()

	config.LoadConfig(".env")
	if config.Cfg == nil {
		log.Fatal("Error: Configuration not loaded.")
	}

	token := os.Getenv("TOKEN")
	if *peer == "" || (token == "" && (*email == "" || *password == "")) {
		log.Fatal("Usage: chat -email you@example.com -password secret -peer othername [-register -username you], or TOKEN=... chat -peer othername")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	creds := credentials.NewStore()
	restClient := api.NewClient(config.Cfg.ServerURL, creds)

	var me *models.PublicUser
	var err error
	switch {
	case *register:
		me, err = restClient.Register(ctx, *username, *email, *password)
	case token != "":
		if err = creds.SetToken(token); err == nil {
			me, err = restClient.Me(ctx)
		}
	default:
		me, err = restClient.Login(ctx, *email, *password)
	}
	if err != nil {
		log.Fatalf("Authentication failed: %v", err)
	}
	log.Printf("Signed in as %s (%s)", me.Username, me.ID)

	peers, err := restClient.SearchUsers(ctx, *peer)
	if err != nil || len(peers) == 0 {
		log.Fatalf("Could not find user %q: %v", *peer, err)
	}
	other := peers[0]

	chat, err := restClient.CreateChat(ctx, []uuid.UUID{other.ID})
	if err != nil {
		log.Fatalf("Could not open a chat with %s: %v", other.Username, err)
	}

	rt := realtime.NewService(config.Cfg.ServerURL, creds)
	defer rt.Disconnect()

	room := models.ChatRoom{
		ChatID:        chat.ID,
		PeerID:        other.ID,
		CurrentUserID: me.ID,
	}

	var ctrl *session.Controller
	ctrl = session.NewController(rt, restClient, room, func() {
		render(ctrl, other.Username)
	})
	if err := ctrl.Open(ctx); err != nil {
		log.Printf("Warning: could not load history: %v", err)
	}
	defer ctrl.Close()

	fmt.Printf("--- chatting with %s, type a message and press enter (/quit to exit) ---\n", other.Username)
	render(ctrl, other.Username)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		ctrl.InputChanged()
		ctrl.SendText(line)
	}
}

func render(ctrl *session.Controller, peerName string) {
	msgs := ctrl.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]

	who := peerName
	if last.Sender.IsLocal {
		who = "you"
	}
	marker := ""
	switch last.Delivery {
	case models.DeliveryPending:
		marker = " (sending...)"
	case models.DeliveryFailed:
		marker = " (failed)"
	case models.DeliverySent:
		if last.Sender.IsLocal && last.Read {
			marker = " (read)"
		}
	}
	fmt.Printf("[%s] %s: %s%s\n", last.CreatedAt.Format("15:04:05"), who, last.Body, marker)

	if ctrl.PeerTyping() {
		fmt.Printf("... %s is typing\n", peerName)
	}
}
