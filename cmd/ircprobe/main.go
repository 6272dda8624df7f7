// ircprobe is a smoke-test client for a running ircdb server. It registers a
// nickname, joins a channel, says one line, and prints everything it receives
// for a few seconds before disconnecting.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/lrstanley/girc"
)

func main() {
	server := flag.String("server", "127.0.0.1", "IRC server host")
	port := flag.Int("port", 6667, "IRC server port")
	nick := flag.String("nick", "probe", "nickname to register")
	channel := flag.String("channel", "#welcome", "channel to join")
	message := flag.String("message", "ircprobe was here", "message to send")
	wait := flag.Duration("wait", 5*time.Second, "how long to listen before quitting")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	client := girc.New(girc.Config{
		Server: *server,
		Port:   *port,
		Nick:   *nick,
		User:   *nick,
		Name:   *nick,
	})

	client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, e girc.Event) {
		log.Info("connected, joining", "channel", *channel)
		c.Cmd.Join(*channel)
		c.Cmd.Message(*channel, *message)
	})

	client.Handlers.Add(girc.ALL_EVENTS, func(c *girc.Client, e girc.Event) {
		fmt.Println("<<", e.String())
	})

	go func() {
		time.Sleep(*wait)
		client.Quit("probe done")
	}()

	if err := client.Connect(); err != nil {
		log.Error("probe connection ended", "err", err)
		os.Exit(1)
	}
}
