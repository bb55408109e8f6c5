package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Address of a ringcmh node's control API")
	timeout := flag.Duration("timeout", 5*time.Second, "Request timeout (e.g., 5s)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	httpClient := &http.Client{}
	currentAddr := *addr

	fmt.Printf("ringcmh interactive control client. Connected to %s\n", currentAddr)
	fmt.Println("Available commands: status/delay/join/leave/kill/revive/acquire/release/detect/active/passive/use/exit")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(fmt.Sprintf("ringcmh[%s]> ", currentAddr))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("Aborted")
				continue
			}
			break
		}
		line.AppendHistory(input)

		args := strings.Fields(strings.TrimSpace(input))
		if len(args) == 0 {
			continue
		}
		cmd := args[0]

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)

		switch cmd {

		case "status":
			var status map[string]any
			if err := doJSON(ctx, httpClient, http.MethodGet, currentAddr, "/status", nil, &status); err != nil {
				fmt.Printf("status failed: %v\n", err)
				break
			}
			printJSON(status)

		case "delay":
			if len(args) < 2 {
				fmt.Println("Usage: delay <ms>")
				break
			}
			ms, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				fmt.Printf("invalid delay %q: %v\n", args[1], err)
				break
			}
			body := map[string]any{"delay_ms": ms}
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/delay", body, &resp); err != nil {
				fmt.Printf("delay failed: %v\n", err)
				break
			}
			fmt.Println("delay set")

		case "join":
			if len(args) < 2 {
				fmt.Println("Usage: join <addr>")
				break
			}
			body := map[string]any{"address": args[1]}
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/joinother", body, &resp); err != nil {
				fmt.Printf("join failed: %v\n", err)
				break
			}
			printJSON(resp)

		case "leave":
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/leave", nil, &resp); err != nil {
				fmt.Printf("leave failed: %v\n", err)
				break
			}
			fmt.Println("left the ring")

		case "kill":
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/kill", nil, &resp); err != nil {
				fmt.Printf("kill failed: %v\n", err)
				break
			}
			fmt.Println("killed")

		case "revive":
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/revive", nil, &resp); err != nil {
				fmt.Printf("revive failed: %v\n", err)
				break
			}
			fmt.Println("revived")

		case "acquire":
			if len(args) < 2 {
				fmt.Println("Usage: acquire <resource>")
				break
			}
			body := map[string]any{"resource": args[1]}
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/acquire", body, &resp); err != nil {
				fmt.Printf("acquire failed: %v\n", err)
				break
			}
			printJSON(resp)

		case "release":
			if len(args) < 2 {
				fmt.Println("Usage: release <resource>")
				break
			}
			body := map[string]any{"resource": args[1]}
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/release", body, &resp); err != nil {
				fmt.Printf("release failed: %v\n", err)
				break
			}
			printJSON(resp)

		case "detect":
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/detection/start", nil, &resp); err != nil {
				fmt.Printf("detect failed: %v\n", err)
				break
			}
			fmt.Println("detection round started")

		case "active":
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/setActive", nil, &resp); err != nil {
				fmt.Printf("active failed: %v\n", err)
				break
			}
			fmt.Println("set active")

		case "passive":
			var resp map[string]any
			if err := doJSON(ctx, httpClient, http.MethodPost, currentAddr, "/setPassive", nil, &resp); err != nil {
				fmt.Printf("passive failed: %v\n", err)
				break
			}
			fmt.Println("set passive")

		case "use":
			if len(args) < 2 {
				fmt.Println("Usage: use <addr>")
				break
			}
			currentAddr = args[1]
			fmt.Printf("Switched connection to %s\n", currentAddr)

		case "exit", "quit":
			fmt.Println("Bye!")
			cancel()
			return

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}

		cancel()
	}
}

func doJSON(ctx context.Context, hc *http.Client, method, addr, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	url := fmt.Sprintf("http://%s%s", addr, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(data))
}
