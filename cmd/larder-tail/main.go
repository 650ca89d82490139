// Package main implements larder-tail, a debugging tool that connects to
// a larderd server and prints the event feed as it happens.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/larder/larder/internal/api/ws"
	"github.com/larder/larder/pkg/api"
)

func main() {
	var (
		url    string
		cursor string
	)
	flag.StringVar(&url, "url", "ws://localhost:8080/api", "Server websocket URL")
	flag.StringVar(&cursor, "cursor", "", "Start cursor; empty tails the full history")
	flag.Parse()

	client := ws.NewClient(url, func(connected bool) {
		if connected {
			log.Printf("connected to %s", url)
		} else {
			log.Printf("connection lost, retrying")
		}
	})

	client.Subscribe(api.TypeSyncEvents,
		func() (any, error) {
			return api.SyncEventsRequest{Cursor: cursor}, nil
		},
		func(resp api.Response) {
			if resp.Error != "" {
				log.Printf("server error: %s", resp.Error)
				return
			}
			var batch api.SyncEventsResponse
			if err := json.Unmarshal(resp.Data, &batch); err != nil {
				log.Printf("malformed batch: %v", err)
				return
			}
			// Remember where we are so a reconnect resumes rather than
			// replaying the full history.
			if batch.Cursor != "" {
				cursor = batch.Cursor
			}
			for _, ev := range batch.Events {
				fmt.Printf("%s  v%-4d %-36s %s  %s\n",
					ev.Timestamp, ev.Version, ev.EntityID, ev.Type, string(ev.Data))
			}
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
}
