// Package main watches route-plan events over WebSocket, optionally starting a
// bulk assignment first so there is something to see.
//
//	go run ./scripts --token u1:b1 --job j1 --job j2 --date 2024-09-05
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/alecthomas/kingpin.v2"

	"fieldroute/internal/events"
	"fieldroute/internal/model"
)

var (
	app   = kingpin.New("ws_client", "Watch fieldroute route-plan events")
	addr  = app.Flag("addr", "API host:port (set $FIELDROUTE_ADDR to override)").Default("localhost:8080").Envar("FIELDROUTE_ADDR").String()
	token = app.Flag("token", "bearer token; dev mode takes user[:business] (set $FIELDROUTE_TOKEN to override)").Short('t').Required().Envar("FIELDROUTE_TOKEN").String()
	jobs  = app.Flag("job", "job id to bulk assign after connecting (repeatable)").Short('j').Strings()
	date  = app.Flag("date", "assignment date YYYY-MM-DD (default today)").String()
	wait  = app.Flag("wait", "how long to listen").Default("10s").Duration()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/v1/route-plans/ws"}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+*token)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt events.Event
			if err := c.ReadJSON(&evt); err != nil {
				log.Info().Err(err).Msg("stream closed")
				return
			}
			b, _ := json.Marshal(evt.Data)
			log.Info().Str("type", evt.Type).Str("id", evt.ID).RawJSON("data", b).Msg("event")
		}
	}()

	if len(*jobs) > 0 {
		if err := bulkAssign(*addr, *token, *jobs, *date); err != nil {
			log.Error().Err(err).Msg("bulk assign")
		}
	}

	select {
	case <-time.After(*wait):
	case <-done:
	}
}

func bulkAssign(addr, token string, ids []string, date string) error {
	req := model.BulkAssignRequest{JobIDs: ids}
	if date != "" {
		req.DateRange = &model.DateRange{Start: date, End: date}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	hreq, err := http.NewRequest(http.MethodPost, "http://"+addr+"/v1/assignments/bulk", bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(hreq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	var out model.BulkAssignResponse
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	log.Info().
		Int("assigned", out.Summary.Assigned).
		Int("unassigned", out.Summary.Unassigned).
		Strs("route_plans", out.RoutePlansCreated).
		Msg("bulk assign")
	return nil
}
