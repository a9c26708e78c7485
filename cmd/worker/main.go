package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/lovely-prompts/internal/config"
	"github.com/suPer8Hu/lovely-prompts/internal/db"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
	"github.com/suPer8Hu/lovely-prompts/internal/store/rabbitmq"
	"github.com/suPer8Hu/lovely-prompts/internal/syncer"
)

func main() {
	cfg := config.Load()

	level := db.ParseLogLevel(cfg.DBLogLevel)
	projects := project.NewManager(cfg.DataDir, level)
	defer projects.Close()

	remote, err := db.Connect(cfg.RemoteDBDSN, level)
	if err != nil {
		log.Fatalf("remote db: %v", err)
	}
	s := syncer.New(projects, remote)
	if err := s.Migrate(); err != nil {
		log.Fatalf("remote migrate: %v", err)
	}

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

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("sync worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m syncer.Message
				if err := json.Unmarshal(d.Body, &m); err != nil {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				err := s.Handle(ctx, m)
				if err == nil {
					if err := d.Ack(false); err != nil {
						log.Printf("worker=%d ack failed entity=%s id=%s err=%v", workerID, m.Entity, m.ID, err)
					}
					continue
				}

				// nack(requeue=false) dead-letters the message to <queue>.dlq
				log.Printf("worker=%d sync failed project=%s entity=%s id=%s op=%s cost=%s err=%v",
					workerID, m.Project, m.Entity, m.ID, m.Op, time.Since(start), err)
				_ = d.Nack(false, false)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
