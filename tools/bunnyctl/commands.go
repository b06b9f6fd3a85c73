package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Thejuampi/bunnymq-client-go/bunny"
	"github.com/Thejuampi/bunnymq-client-go/internal/config"
	"github.com/Thejuampi/bunnymq-client-go/internal/logging"
)

type environment struct {
	client  *bunny.Client
	stdin   io.Reader
	stdout  io.Writer
	logger  *logging.Logger
	timeout time.Duration
}

type command struct {
	usage string
	run   func(ctx context.Context, env *environment, args []string) error
}

const (
	declareUsage = "declare <queue> [-durable] [-no-ack] [-message-expiry s] [-ack-expiry s] [-queue-expiry s]"
	publishUsage = "publish <queue> [message ...]"
	consumeUsage = "consume <queue> [-count n] [-no-ack]"
)

var commands = map[string]command{
	"declare": {usage: declareUsage, run: runDeclare},
	"publish": {usage: publishUsage, run: runPublish},
	"consume": {usage: consumeUsage, run: runConsume},
}

// connect waits for the client to become ready and declares the configured
// queues.
func (env *environment) connect(ctx context.Context, queues []config.QueueConfig) error {
	connectCtx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()
	if err := env.client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	env.logger.Info("connected", "client_id", env.client.ClientID())

	for _, queue := range queues {
		if _, err := env.declare(ctx, bunny.QueueOptions{Name: queue.Name, Config: queue.Options}); err != nil {
			return err
		}
	}
	return nil
}

func (env *environment) declare(ctx context.Context, options bunny.QueueOptions) (bool, error) {
	declareCtx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()
	code, err := env.client.QueueDeclare(declareCtx, options)
	if err != nil {
		return false, fmt.Errorf("declaring %s: %w", options.Name, err)
	}
	created := code == bunny.ResultSuccess
	env.logger.Debug("queue declared", "queue", options.Name, "created", created)
	return created, nil
}

// splitQueue separates the leading queue argument from the flags that follow.
func splitQueue(usage string, args []string) (string, []string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", nil, fmt.Errorf("queue name is required: usage: bunnyctl %s", usage)
	}
	return args[0], args[1:], nil
}

func runDeclare(ctx context.Context, env *environment, args []string) error {
	queue, rest, err := splitQueue(declareUsage, args)
	if err != nil {
		return err
	}

	flags := flag.NewFlagSet("declare", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	durable := flags.Bool("durable", false, "")
	noAck := flags.Bool("no-ack", false, "")
	messageExpiry := flags.Int("message-expiry", 0, "")
	ackExpiry := flags.Int("ack-expiry", 0, "")
	queueExpiry := flags.Int("queue-expiry", 0, "")
	if err := flags.Parse(rest); err != nil {
		return fmt.Errorf("declare: %w", err)
	}

	options := bunny.QueueOptions{Name: queue}
	if flags.NFlag() > 0 {
		options.Config = &bunny.QueueConfig{
			QueueExpiry:   *queueExpiry,
			MessageExpiry: *messageExpiry,
			AckExpiry:     *ackExpiry,
			Durable:       *durable,
			NoAck:         *noAck,
		}
	}

	created, err := env.declare(ctx, options)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(env.stdout, "declared %s\n", queue)
	} else {
		fmt.Fprintf(env.stdout, "%s already exists\n", queue)
	}
	return nil
}

func runPublish(ctx context.Context, env *environment, args []string) error {
	queue, messages, err := splitQueue(publishUsage, args)
	if err != nil {
		return err
	}

	publish := func(body string) error {
		publishCtx, cancel := context.WithTimeout(ctx, env.timeout)
		defer cancel()
		if _, err := env.client.Publish(publishCtx, queue, []byte(body)); err != nil {
			return fmt.Errorf("publishing to %s: %w", queue, err)
		}
		return nil
	}

	published := 0
	if len(messages) > 0 {
		for _, body := range messages {
			if err := publish(body); err != nil {
				return err
			}
			published++
		}
	} else {
		scanner := bufio.NewScanner(env.stdin)
		for scanner.Scan() {
			if err := publish(scanner.Text()); err != nil {
				return err
			}
			published++
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}

	fmt.Fprintf(env.stdout, "published %d message(s) to %s\n", published, queue)
	return nil
}

func runConsume(ctx context.Context, env *environment, args []string) error {
	queue, rest, err := splitQueue(consumeUsage, args)
	if err != nil {
		return err
	}

	flags := flag.NewFlagSet("consume", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	count := flags.Int("count", 0, "")
	noAck := flags.Bool("no-ack", false, "")
	if err := flags.Parse(rest); err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	// The handler runs on the client's event loop; blocking calls happen here.
	deliveries := make(chan []byte, 64)
	handler := func(body []byte) {
		select {
		case deliveries <- body:
		case <-ctx.Done():
		}
	}

	subscribeCtx, cancel := context.WithTimeout(ctx, env.timeout)
	err = env.client.Consume(subscribeCtx, queue, handler)
	cancel()
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queue, err)
	}

	for received := 0; *count == 0 || received < *count; received++ {
		var body []byte
		select {
		case body = <-deliveries:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
		fmt.Fprintln(env.stdout, string(body))

		if *noAck {
			continue
		}
		ackCtx, cancel := context.WithTimeout(ctx, env.timeout)
		acked, err := env.client.Ack(ackCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("acknowledging: %w", err)
		}
		if !acked {
			env.logger.Warn("ack rejected", "queue", queue)
		}
	}
	return nil
}
