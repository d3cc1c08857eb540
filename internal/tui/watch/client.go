package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/switchboard/internal/events"
)

type eventMsg events.Event

// healthMsg mirrors the /healthz response.
type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Billing       bool   `json:"billing"`
	Routing       bool   `json:"routing"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// subscribeToEvents streams /events into ch until the connection drops.
// lastID resumes the feed after a reconnect.
func subscribeToEvents(apiURL, token string, filter events.Filter, lastID *int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		target := apiURL + "/events"
		if len(filter) > 0 {
			target += "?types=" + url.QueryEscape(strings.Join(filter, ","))
		}
		req, err := http.NewRequest(http.MethodGet, target, nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if *lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(*lastID, 10))
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events feed: %s", resp.Status))
		}

		readSSE(resp.Body, func(ev events.Event) {
			*lastID = ev.ID
			ch <- ev
		})
		return sseDisconnectedMsg{}
	}
}

// readSSE parses a server-sent event stream, calling emit for each complete
// event. Comment lines are ignored.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	var (
		id   int64
		typ  string
		data string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				emit(events.Event{ID: id, Type: typ, At: time.Now(), Data: []byte(data)})
			}
			id, typ, data = 0, "", ""
		case strings.HasPrefix(line, "id: "):
			id, _ = strconv.ParseInt(line[4:], 10, 64)
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
}

func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
