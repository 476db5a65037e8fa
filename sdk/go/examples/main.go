package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"EventSync-Agent/sdk/go/eventsync"
)

// 演示如何通过 SDK 与 eventsyncd 交互：先对话，再以脚本化任务读取活动详情。
func main() {
	addr := flag.String("addr", "http://localhost:8080", "eventsyncd 地址")
	eventID := flag.String("event", "", "Eventbrite 活动 ID")
	flag.Parse()

	client, err := eventsync.NewClient(*addr, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	reply, err := client.Chat(ctx, "sdk-demo", "What can you do?")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(reply)

	if *eventID == "" {
		return
	}
	args, _ := json.Marshal(map[string]string{"event_id": *eventID})
	submitted, err := client.SubmitTask(ctx, eventsync.TaskSubmission{Tool: "retrieve_event", Arguments: args})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", submitted.ID, submitted.Status)

	done, err := client.WaitTask(ctx, submitted.ID, time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if done.Result != nil {
		fmt.Println(done.Result.Reply)
		return
	}
	fmt.Printf("task %s failed: %s\n", done.ID, done.LastError)
}
