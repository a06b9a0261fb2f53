package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bizpilot/convocore/internal/config"
	"github.com/bizpilot/convocore/internal/session"
)

// notifier consumes the message-appended feed and delivers notifications
// (new-reply pushes, activity digests). Deliveries are independent of the
// session core: a failure here is nacked to the retry queue and never
// touches message persistence.

func notifierConcurrency() int {
	v := os.Getenv("NOTIFIER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	}); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := notifierConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("notifier started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var evt session.MessageAppendedEvent
				if err := json.Unmarshal(d.Body, &evt); err != nil || evt.SessionID == "" {
					log.Printf("worker=%d bad event: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}
				if err := deliver(evt); err != nil {
					log.Printf("worker=%d deliver session=%s seq=%d: %v",
						workerID, evt.SessionID, evt.SequenceNumber, err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}(i)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case d, ok := <-msgs:
			if !ok {
				break loop
			}
			deliveries <- d
		}
	}

	close(deliveries)
	wg.Wait()
	log.Printf("notifier stopped")
}

// deliver pushes one notification. Only assistant replies notify the
// participant; user messages are counted for digests.
func deliver(evt session.MessageAppendedEvent) error {
	if evt.Role != session.RoleAssistant {
		return nil
	}
	// TODO: hook up the push provider once the mobile app ships;
	// until then delivery is log-only.
	log.Printf("notify tenant=%s session=%s seq=%d", evt.TenantID, evt.SessionID, evt.SequenceNumber)
	return nil
}
