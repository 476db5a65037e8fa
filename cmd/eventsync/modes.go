package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"EventSync-Agent/internal/agent"
	"EventSync-Agent/internal/tools"
)

const separator = "-------------------"

// Streamer 是命令行模式依赖的 Agent 能力。
type Streamer interface {
	Stream(ctx context.Context, req agent.TaskRequest, emit func(agent.Chunk)) (*agent.TaskResult, error)
}

// chooseMode 反复提示直到用户选定模式。
func chooseMode(in *bufio.Scanner, out io.Writer) (string, error) {
	for {
		fmt.Fprintln(out, "\nAvailable modes:")
		fmt.Fprintln(out, "1. chat    - Interactive chat mode")
		fmt.Fprintln(out, "2. auto    - Autonomous action mode")
		fmt.Fprint(out, "\nChoose a mode (enter number or name): ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "1", "chat":
			return "chat", nil
		case "2", "auto":
			return "auto", nil
		}
		fmt.Fprintln(out, "Invalid choice. Please try again.")
	}
}

// runChat 逐行读取输入并输出每个片段，输入 exit 或读到 EOF 时结束。
func runChat(ctx context.Context, ag Streamer, thread string, in *bufio.Scanner, out io.Writer) error {
	fmt.Fprintln(out, "Starting chat mode... Type 'exit' to end.")
	for {
		fmt.Fprint(out, "\nUser: ")
		if !in.Scan() {
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if strings.EqualFold(line, "exit") {
			return nil
		}
		if line == "" {
			continue
		}
		if err := streamTurn(ctx, ag, agent.TaskRequest{ThreadID: thread, Message: line}, out); err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(out, "Goodbye Agent!")
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n%s\n", err, separator)
		}
	}
}

// runAutonomous 每隔 interval 发送一次自主指令，直到上下文取消。
func runAutonomous(ctx context.Context, ag Streamer, thread string, interval time.Duration, out io.Writer) error {
	fmt.Fprintln(out, "Starting autonomous mode...")
	for {
		err := streamTurn(ctx, ag, agent.TaskRequest{ThreadID: thread, Message: tools.AutonomousThought}, out)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "Error: %v\n%s\n", err, separator)
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Goodbye Agent!")
			return nil
		case <-time.After(interval):
		}
	}
}

func streamTurn(ctx context.Context, ag Streamer, req agent.TaskRequest, out io.Writer) error {
	_, err := ag.Stream(ctx, req, func(c agent.Chunk) {
		fmt.Fprintln(out, c.Content)
		fmt.Fprintln(out, separator)
	})
	return err
}
