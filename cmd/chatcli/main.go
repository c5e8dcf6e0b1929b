// Command chatcli is an interactive client for a running gateway instance.
// It keeps the conversation history locally and renders streaming responses
// as they arrive.
//
// Usage:
//
//	chatcli [--url http://localhost:8000] [--stream=false] [--system "..."]
//
// Slash commands inside the REPL:
//
//	/exit, /quit    - leave
//	/clear          - reset the conversation
//	/stream         - toggle streaming
//	/log on|off     - toggle dialog logging on the gateway
//	/system <text>  - set the system prompt
//	/info           - provider capabilities
//	/health         - health probe
//	/help           - this list
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cuber-it/heinzel-ki/model"
)

const probeTimeout = 5 * time.Second

type client struct {
	baseURL string
	http    *http.Client
}

func main() {
	url := flag.String("url", "http://localhost:8000", "gateway URL")
	stream := flag.Bool("stream", true, "stream responses")
	system := flag.String("system", "", "system prompt")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*url, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}

	health, err := c.getJSON("/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway not reachable at %s: %v\n", c.baseURL, err)
		os.Exit(1)
	}
	info, _ := c.getJSON("/capabilities")
	providerName, _ := info["provider"].(string)
	if providerName == "" {
		providerName, _ = health["provider"].(string)
	}

	streaming := *stream
	systemPrompt := *system
	fmt.Printf("provider : %s\n", providerName)
	fmt.Printf("url      : %s\n", c.baseURL)
	fmt.Printf("streaming: %t\n", streaming)
	if systemPrompt != "" {
		fmt.Printf("system   : %s\n", truncate(systemPrompt, 60))
	}
	fmt.Println("/help for commands")
	fmt.Println()

	var messages []model.ChatMessage
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you: ")
		if !in.Scan() {
			fmt.Println("\nbye")
			return
		}
		input := strings.TrimSpace(in.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			switch {
			case input == "/exit" || input == "/quit":
				fmt.Println("bye")
				return
			case input == "/clear":
				messages = nil
				fmt.Println("[history cleared]")
			case input == "/stream":
				streaming = !streaming
				fmt.Printf("[streaming %t]\n", streaming)
			case strings.HasPrefix(input, "/log "):
				c.toggleLogging(strings.HasSuffix(input, "on"))
			case strings.HasPrefix(input, "/system "):
				systemPrompt = strings.TrimSpace(input[len("/system "):])
				fmt.Printf("[system prompt set: %s]\n", truncate(systemPrompt, 60))
			case input == "/info":
				printJSON(info)
			case input == "/health":
				h, err := c.getJSON("/health")
				if err != nil {
					fmt.Fprintf(os.Stderr, "[error] %v\n", err)
					continue
				}
				printJSON(h)
			case input == "/help":
				printHelp()
			default:
				fmt.Printf("[unknown command: %s]\n", input)
			}
			continue
		}

		messages = append(messages, model.ChatMessage{Role: "user", Content: model.Text(input)})
		fmt.Print("assistant: ")
		reply, err := c.chat(messages, systemPrompt, streaming)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\n[error] %v\n", err)
			messages = messages[:len(messages)-1]
			continue
		}
		if reply == "" {
			messages = messages[:len(messages)-1]
			continue
		}
		messages = append(messages, model.ChatMessage{Role: "assistant", Content: model.Text(reply)})
	}
}

// chat sends the conversation and returns the assistant reply. In streaming
// mode deltas are printed as they arrive.
func (c *client) chat(messages []model.ChatMessage, system string, stream bool) (string, error) {
	req := model.ChatRequest{Messages: messages, MaxTokens: 2048, System: system}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	endpoint := c.baseURL + "/chat"
	if stream {
		endpoint = c.baseURL + "/chat/stream"
	}
	resp, err := c.http.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !stream {
		var out model.ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", err
		}
		fmt.Println(out.Content)
		return out.Content, nil
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "[DONE]" {
			break
		}
		var chunk model.StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		switch chunk.Type {
		case model.ChunkTypeContentDelta:
			fmt.Print(chunk.Content)
			full.WriteString(chunk.Content)
		case model.ChunkTypeCommandResponse:
			fmt.Printf("\n[!%s]\n", chunk.Command)
			printJSON(chunk.Result)
			encoded, _ := json.Marshal(chunk.Result)
			full.Write(encoded)
		case model.ChunkTypeError:
			fmt.Fprintf(os.Stderr, "\n[error] %s\n", chunk.Error)
		}
	}
	fmt.Println()
	return full.String(), scanner.Err()
}

func (c *client) getJSON(path string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) toggleLogging(enable bool) {
	action := "disable"
	if enable {
		action = "enable"
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/logging/"+action, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}
	defer resp.Body.Close()
	var out struct {
		DialogLogging bool `json:"dialog_logging"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}
	fmt.Printf("[dialog logging %t]\n", out.DialogLogging)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%v\n", v)
		return
	}
	fmt.Println(string(data))
}

func printHelp() {
	fmt.Print(`commands:
  /exit, /quit    - leave
  /clear          - reset the conversation
  /stream         - toggle streaming
  /log on|off     - toggle dialog logging
  /system <text>  - set the system prompt
  /info           - provider capabilities
  /health         - health probe
  /help           - this list
`)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
