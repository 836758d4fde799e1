package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/runenkrieg/internal/taskws"
	"github.com/park285/runenkrieg/pkg/taskdto"
)

// taskcheck submits one small simulation to a running task server and
// prints its progress and result.
func main() {
	wsURL := os.Getenv("TRAINER_WS_URL")
	origin := os.Getenv("TRAINER_ORIGIN")
	game := taskdto.Game(os.Getenv("TRAINER_GAME"))
	if wsURL == "" {
		log.Fatal("TRAINER_WS_URL is required")
	}
	if game == "" {
		game = taskdto.GameCards
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if origin != "" {
			m["Origin"] = origin
		}
		return m
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	client, err := taskws.Dial(ctx, wsURL, taskws.WithHeaderProvider(headers))
	if err != nil {
		log.Fatalf("connect error: %v", err)
	}
	defer client.Close()

	payload, _ := json.Marshal(taskdto.Payload{Game: game, Games: 5})
	ev, err := client.Run(ctx, taskdto.Request{Action: taskdto.ActionSimulate, Payload: payload}, func(p taskdto.Progress) {
		fmt.Printf("[%3.0f%%] %s\n", p.Fraction*100, p.Message)
	})
	if err != nil {
		log.Fatalf("run error: %v", err)
	}
	if ev.Error != nil {
		log.Fatalf("task %s failed: %s", ev.ID, ev.Error.Message)
	}
	fmt.Printf("task %s result: %s\n", ev.ID, ev.Result)
}
