// Command client is a minimal terminal shell around the presence core: it
// fetches a document, joins its room and prints roster changes and
// collaborator notifications. In edit mode, lines read from stdin count as
// content changes and are saved back on EOF.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mdlive/client"
	"mdlive/internal/config"
	"mdlive/internal/models"

	"github.com/rs/zerolog"
)

func main() {
	var (
		library = flag.String("library", "", "library UUID")
		path    = flag.String("path", "", "absolute file path, e.g. /notes.md")
		user    = flag.String("user", "", "user identity")
		edit    = flag.Bool("edit", false, "edit mode: read content from stdin, save on EOF")
	)
	flag.Parse()

	if *library == "" || *path == "" || *user == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	channel := client.NewChannel(cfg.SignalEndpoint, logger, client.ChannelOptions{
		MinReconnectDelay: cfg.ReconnectMinDelay,
		MaxReconnectDelay: cfg.ReconnectMaxDelay,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = channel.Open(ctx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("channel open failed")
	}
	defer channel.Close()

	session := client.OpenDocumentSession(channel, *library, *path, *user, logger, client.SessionOptions{
		EditSignalWindow:   cfg.EditSignalWindow,
		JoinLeaveNotifyTTL: cfg.JoinLeaveNotifyTTL,
		EditingNotifyTTL:   cfg.EditingNotifyTTL,
		OnRoster: func(users []models.PresenceEntry) {
			names := make([]string, len(users))
			for i, u := range users {
				names[i] = u.User
			}
			fmt.Printf("-- viewing now: %s\n", strings.Join(names, ", "))
		},
		OnNotification: func(n client.Notification) {
			switch n.Kind {
			case client.NotifyJoined:
				fmt.Printf("-- %s joined\n", n.User)
			case client.NotifyLeft:
				fmt.Printf("-- %s left\n", n.User)
			case client.NotifyEditing:
				fmt.Printf("-- %s is editing this file!\n", n.User)
			}
		},
	})
	defer session.Close()

	gateway := client.NewGateway(cfg.PublicBaseURL, logger)

	content, err := session.LoadContent(context.Background(), gateway)
	if err != nil {
		logger.Fatal().Err(err).Msg("fetch failed")
	}
	fmt.Println(content)

	if *edit {
		runEditor(session, gateway, logger)
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func runEditor(session *client.DocSession, gateway *client.Gateway, logger zerolog.Logger) {
	fmt.Println("-- edit mode: type replacement content, ^D to save")

	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		session.NotifyContentChange()
	}

	err := session.SaveContent(context.Background(), gateway, strings.Join(lines, "\n"))
	if err != nil {
		// Recoverable: the content is still in hand, the user may retry.
		logger.Error().Err(err).Msg("save failed")
		return
	}
	fmt.Println("-- saved")
}
