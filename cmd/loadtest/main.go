package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    int64  `json:"id"`
}

type ConversationResponse struct {
	ID int64 `json:"id"`
}

type frame struct {
	Type string `json:"type"`
}

var (
	baseURL  = flag.String("url", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("messages", 20, "direct messages sent per pair")
	wait     = flag.Duration("wait", 5*time.Second, "how long receivers wait for the last message")

	sent      atomic.Int64
	delivered atomic.Int64
)

func main() {
	flag.Parse()
	log.Printf("starting load test: %d users, %d messages per pair", *pairs*2, *msgCount)

	start := time.Now()
	var wg sync.WaitGroup
	// Pairs talk over a DM: user 0_a writes to user 0_b and so on.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete in %s: sent=%d delivered=%d", time.Since(start).Round(time.Millisecond), sent.Load(), delivered.Load())
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	authA, err := authenticate(userA, pass)
	if err != nil {
		log.Printf("auth %s: %v", userA, err)
		return
	}
	authB, err := authenticate(userB, pass)
	if err != nil {
		log.Printf("auth %s: %v", userB, err)
		return
	}

	convID, err := createConversation(authA.Token, authB.ID)
	if err != nil {
		log.Printf("conversation %s -> %s: %v", userA, userB, err)
		return
	}

	conn, err := dial(authB.Token)
	if err != nil {
		log.Printf("ws connect %s: %v", userB, err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go receive(conn, done)

	for i := 0; i < *msgCount; i++ {
		body := map[string]string{"content": fmt.Sprintf("load test message %d from %s", i, userA)}
		if err := call(http.MethodPost, fmt.Sprintf("/api/conversations/%d/messages", convID), authA.Token, body, nil); err != nil {
			log.Printf("send %s: %v", userA, err)
			break
		}
		sent.Add(1)
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(*wait)
	conn.Close()
	<-done
}

// receive counts dm:new frames until the connection closes. The server may
// batch several newline separated frames into one websocket message.
func receive(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, r, err := conn.NextReader()
		if err != nil {
			return
		}
		dec := json.NewDecoder(r)
		for {
			var f frame
			if err := dec.Decode(&f); err != nil {
				break
			}
			if f.Type == "dm:new" {
				delivered.Add(1)
			}
		}
	}
}

// authenticate registers (ignoring an existing account) and logs in.
func authenticate(username, password string) (*AuthResponse, error) {
	creds := map[string]string{"username": username, "password": password}
	_ = call(http.MethodPost, "/register", "", creds, nil)

	var auth AuthResponse
	if err := call(http.MethodPost, "/login", "", creds, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func createConversation(token string, targetID int64) (int64, error) {
	var conv ConversationResponse
	if err := call(http.MethodPost, "/api/conversations", token, map[string]int64{"userId": targetID}, &conv); err != nil {
		return 0, err
	}
	return conv.ID, nil
}

func dial(token string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	return conn, err
}

func call(method, endpoint, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, *baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
