// Command shotrio-cli is a terminal client for a conversation served over
// the orchestrator's WebSocket endpoint.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/chasecyang/shotrio-sub004/internal/domain"
)

var (
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pendingStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
	hintStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// frame is a client frame sent over the socket.
type frame struct {
	Type            string          `json:"type"`
	Content         string          `json:"content,omitempty"`
	PendingActionID string          `json:"pending_action_id,omitempty"`
	Decision        domain.Decision `json:"decision,omitempty"`
	Reason          string          `json:"reason,omitempty"`
}

// event is a server frame with its data left undecoded.
type event struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// Client is a WebSocket client for one conversation.
type Client struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending string
}

// NewClient connects to the socket of a conversation.
func NewClient(baseURL, conversationID string) (*Client, error) {
	addr := "ws" + strings.TrimPrefix(strings.TrimSuffix(baseURL, "/"), "http") + "/v1/conversations/" + conversationID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Send sends a user message.
func (c *Client) Send(content string) error {
	return c.conn.WriteJSON(frame{Type: "message", Content: content})
}

// Decide answers the last pending action shown.
func (c *Client) Decide(decision domain.Decision, reason string) error {
	c.mu.Lock()
	id := c.pending
	c.mu.Unlock()
	if id == "" {
		return fmt.Errorf("nothing is waiting for confirmation")
	}
	return c.conn.WriteJSON(frame{Type: "decide", PendingActionID: id, Decision: decision, Reason: reason})
}

func (c *Client) setPending(id string) {
	c.mu.Lock()
	c.pending = id
	c.mu.Unlock()
}

// ReadEvents reads and prints events until the connection closes.
func (c *Client) ReadEvents(done chan<- struct{}) {
	defer close(done)
	for {
		var ev event
		if err := c.conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("read error: %v", err)
			}
			return
		}
		c.print(ev)
	}
}

func (c *Client) print(ev event) {
	switch ev.Type {
	case domain.EventTypeThinking:
		var d domain.TextData
		json.Unmarshal(ev.Data, &d)
		fmt.Print(thinkingStyle.Render(d.Delta))
	case domain.EventTypeContent:
		var d domain.TextData
		json.Unmarshal(ev.Data, &d)
		fmt.Print(d.Delta)
	case domain.EventTypeFunctionStart:
		var d domain.FunctionStartData
		json.Unmarshal(ev.Data, &d)
		label := d.Label
		if label == "" {
			label = d.Name
		}
		fmt.Println(toolStyle.Render("\n→ " + label))
	case domain.EventTypeFunctionResult:
		var d domain.FunctionResultData
		json.Unmarshal(ev.Data, &d)
		if d.Outcome.Success {
			fmt.Println(okStyle.Render("✓ " + d.Name))
		} else {
			fmt.Println(errorStyle.Render("✗ " + d.Name + ": " + d.Outcome.Error))
		}
	case domain.EventTypePendingAction:
		var d domain.PendingActionData
		json.Unmarshal(ev.Data, &d)
		if d.PendingAction == nil {
			return
		}
		c.setPending(d.PendingAction.PendingActionID)
		body := d.PendingAction.Narration
		if est := d.PendingAction.CostEstimate; est != nil {
			body += fmt.Sprintf("\nEstimated cost: %g %s", est.Total, est.Currency)
		}
		fmt.Println()
		fmt.Println(pendingStyle.Render(body))
		fmt.Println(hintStyle.Render("/approve or /reject [reason]"))
	case domain.EventTypeError:
		var d domain.ErrorData
		json.Unmarshal(ev.Data, &d)
		fmt.Println(errorStyle.Render(fmt.Sprintf("\nerror [%s]: %s", d.Code, d.Message)))
	case domain.EventTypeComplete:
		var d domain.CompleteData
		json.Unmarshal(ev.Data, &d)
		if d.Reason != domain.CompleteReasonPendingConfirmation {
			c.setPending("")
		}
		fmt.Println()
	}
}

func createConversation(baseURL, projectID, title string) (string, error) {
	body, _ := json.Marshal(domain.CreateConversationRequest{ProjectID: projectID, Title: title})
	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Post(strings.TrimSuffix(baseURL, "/")+"/v1/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		var e map[string]string
		json.NewDecoder(resp.Body).Decode(&e)
		return "", fmt.Errorf("create conversation: %s: %s", resp.Status, e["error"])
	}
	var conv domain.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	return conv.ConversationID, nil
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "orchestrator base URL")
	projectID := flag.String("project", "default", "project to work on")
	conversationID := flag.String("conversation", "", "existing conversation to join")
	title := flag.String("title", "", "title of a new conversation")
	flag.Parse()

	log.SetFlags(log.Ltime)

	id := *conversationID
	if id == "" {
		var err error
		if id, err = createConversation(*addr, *projectID, *title); err != nil {
			log.Fatalf("%v", err)
		}
	}

	client, err := NewClient(*addr, id)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	fmt.Println(hintStyle.Render("Conversation " + id + ". Type a message and press Enter. /quit to exit."))

	done := make(chan struct{})
	go client.ReadEvents(done)

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			client.Close()
			os.Exit(0)
		case <-done:
			os.Exit(0)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		var err error
		switch {
		case input == "/quit":
			fmt.Println("Bye!")
			return
		case input == "/approve" || strings.HasPrefix(input, "/approve "):
			err = client.Decide(domain.DecisionApprove, strings.TrimSpace(strings.TrimPrefix(input, "/approve")))
		case input == "/reject" || strings.HasPrefix(input, "/reject "):
			err = client.Decide(domain.DecisionReject, strings.TrimSpace(strings.TrimPrefix(input, "/reject")))
		default:
			err = client.Send(input)
		}
		if err != nil {
			log.Printf("Send error: %v", err)
		}
	}
}
