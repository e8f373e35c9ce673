// Kingdom CLI - command line client for the Kingdom Chat bridge
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Fidelis900/crown-commune/clients/go/kingdom"
	"github.com/Fidelis900/crown-commune/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := kingdom.NewClient(os.Getenv("KINGDOM_URL"), os.Getenv("KINGDOM_BRIDGE_TOKEN"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "channels":
		resp, err := client.ListChannels(ctx)
		exitOnError(err)
		for _, ch := range resp.Channels {
			marker := " "
			if ch.ID == resp.ActiveID {
				marker = "*"
			}
			fmt.Printf("%s %-16s %s (rank %d+)\n", marker, ch.ID, ch.Name, ch.MinRankLevel)
		}

	case "join":
		requireArgs(3, "kingdom join <channel_id>")
		exitOnError(client.SelectChannel(ctx, os.Args[2]))

	case "read":
		v, err := client.View(ctx)
		exitOnError(err)
		for _, msg := range v.Messages {
			ts := msg.CreatedAt.Local().Format("2006-01-02 15:04:05")
			tag := ""
			if msg.IsPinned {
				tag = " [decree]"
			}
			fmt.Printf("[%s] %s%s: %s\n", ts, msg.Author.Username, tag, msg.Content)
		}
		if len(v.Typing) > 0 {
			names := make([]string, 0, len(v.Typing))
			for _, e := range v.Typing {
				names = append(names, e.Username)
			}
			fmt.Printf("  %s typing...\n", strings.Join(names, ", "))
		}

	case "say", "decree":
		requireArgs(3, "kingdom "+cmd+" <message>")
		resp, err := client.Post(ctx, strings.Join(os.Args[2:], " "), cmd == "decree", "")
		exitOnError(err)
		if resp.Notice != "" {
			fmt.Println(resp.Notice)
		}
		fmt.Printf("Posted: %s\n", resp.ID)

	case "edit":
		requireArgs(4, "kingdom edit <message_id> <content>")
		exitOnError(client.Edit(ctx, os.Args[2], strings.Join(os.Args[3:], " ")))

	case "delete":
		requireArgs(3, "kingdom delete <message_id>")
		exitOnError(client.Delete(ctx, os.Args[2]))

	case "react":
		requireArgs(4, "kingdom react <message_id> <emoji>")
		exitOnError(client.React(ctx, os.Args[2], os.Args[3]))

	case "status":
		requireArgs(3, "kingdom status <online|away|busy|offline>")
		exitOnError(client.SetStatus(ctx, models.PresenceStatus(os.Args[2])))

	case "who":
		requireArgs(3, "kingdom who <user_id>")
		resp, err := client.Who(ctx, os.Args[2])
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Kingdom CLI - Kingdom Chat bridge client

Usage: kingdom <command> [options]

Commands:
  channels                   List channels visible to your rank
  join <channel_id>          Switch the active channel
  read                       Show the active channel's messages
  say <message>              Post a message
  decree <message>           Issue a royal decree
  edit <message_id> <text>   Edit one of your messages
  delete <message_id>        Delete one of your messages
  react <message_id> <emoji> Toggle a reaction
  status <status>            Set presence status
  who <user_id>              Show a profile card
  health                     Check bridge health

Environment:
  KINGDOM_URL           Bridge URL (default: http://localhost:8080)
  KINGDOM_BRIDGE_TOKEN  Bearer token for the bridge`)
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "Usage:", usage)
		os.Exit(1)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
