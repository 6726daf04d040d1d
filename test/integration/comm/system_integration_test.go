// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

//go:build integration

package comm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/Masterminds/semver/v3"

	"github.com/plugmesh/plugmesh/internal/bus"
	"github.com/plugmesh/plugmesh/internal/comm"
	"github.com/plugmesh/plugmesh/internal/contract"
	"github.com/plugmesh/plugmesh/internal/event"
)

var _ = Describe("Communication System", func() {
	var system *comm.System

	BeforeEach(func() {
		system = comm.NewSystem(comm.Config{GracePeriod: 2 * time.Second})
		Expect(system.Initialize()).To(Succeed())
	})

	AfterEach(func() {
		Expect(system.Shutdown()).To(Succeed())
	})

	Describe("publish/subscribe", func() {
		It("delivers to every matching subscriber exactly once", func() {
			var audit, billing atomic.Int64

			_, err := system.Subscribe("orders.*", "audit", func(bus.Message) error {
				audit.Add(1)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = system.Subscribe("orders.created", "billing", func(bus.Message) error {
				billing.Add(1)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			outcome, err := system.Publish(context.Background(), "orders.created",
				map[string]int{"id": 42}, bus.PriorityNormal)
			Expect(err).NotTo(HaveOccurred())

			Expect(outcome.MatchedSubscribers).To(Equal(2))
			Expect(outcome.SuccessfulDeliveries).To(Equal(2))
			Expect(outcome.FailedSubscriberIDs).To(BeEmpty())
			Expect(audit.Load()).To(Equal(int64(1)))
			Expect(billing.Load()).To(Equal(int64(1)))
		})

		It("isolates a failing subscriber from its siblings", func() {
			var healthy atomic.Int64

			_, err := system.Subscribe("orders.created", "broken", func(bus.Message) error {
				panic("handler exploded")
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = system.Subscribe("orders.created", "healthy", func(bus.Message) error {
				healthy.Add(1)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			outcome, err := system.Publish(context.Background(), "orders.created",
				"payload", bus.PriorityNormal)
			Expect(err).NotTo(HaveOccurred())

			Expect(outcome.SuccessfulDeliveries).To(Equal(1))
			Expect(outcome.FailedSubscriberIDs).To(ConsistOf("broken"))
			Expect(healthy.Load()).To(Equal(int64(1)))
		})

		It("preserves per-subscription publish order under concurrent publishers", func() {
			var mu sync.Mutex
			received := make(map[string][]int)

			_, err := system.Subscribe("seq.*", "collector", func(msg bus.Message) error {
				mu.Lock()
				defer mu.Unlock()
				received[msg.Topic] = append(received[msg.Topic], msg.Payload.(int))
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			topics := []string{"seq.a", "seq.b", "seq.c"}
			var wg sync.WaitGroup
			for _, topic := range topics {
				wg.Add(1)
				go func(topic string) {
					defer wg.Done()
					for i := 0; i < 50; i++ {
						_, err := system.Publish(context.Background(), topic, i, bus.PriorityNormal)
						Expect(err).NotTo(HaveOccurred())
					}
				}(topic)
			}
			wg.Wait()

			mu.Lock()
			defer mu.Unlock()
			for _, topic := range topics {
				seq := received[topic]
				Expect(seq).To(HaveLen(50))
				for i, v := range seq {
					Expect(v).To(Equal(i), "topic %s out of order at %d", topic, i)
				}
			}
		})
	})

	Describe("typed events", func() {
		type inventoryChanged struct {
			SKU   string
			Delta int
		}

		It("delivers batched events on the window and replays history", func() {
			batches := make(chan []event.TypedEvent[inventoryChanged], 4)
			_, err := comm.SubscribeEventBatch(system, "warehouse",
				func(evs []event.TypedEvent[inventoryChanged]) {
					batches <- evs
				})
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 3; i++ {
				Expect(comm.PublishEvent(system, "shop",
					inventoryChanged{SKU: "widget", Delta: i}, event.ModeBatched)).To(Succeed())
			}

			var got []event.TypedEvent[inventoryChanged]
			Eventually(batches, time.Second).Should(Receive(&got))
			Expect(got).To(HaveLen(3))

			// Batched events are also recorded for replay.
			replayed := make(chan event.TypedEvent[inventoryChanged], 8)
			_, err = comm.SubscribeEvent(system, "late-joiner",
				func(ev event.TypedEvent[inventoryChanged]) { replayed <- ev },
				event.WithReplayLast(2))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int { return len(replayed) }, time.Second).Should(Equal(2))
		})
	})

	Describe("request/response", func() {
		type addRequest struct{ A, B int }

		It("round-trips a call through a responder", func() {
			_, err := system.RespondTo("math.add", "math-plugin", func(payload any) (any, error) {
				req := payload.(addRequest)
				return req.A + req.B, nil
			})
			Expect(err).NotTo(HaveOccurred())

			result, err := system.CallSync(context.Background(), "math.add",
				addRequest{A: 2, B: 3}, time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(5))
		})

		It("supports many concurrent calls without cross-talk", func() {
			_, err := system.RespondTo("math.double", "math-plugin", func(payload any) (any, error) {
				return payload.(int) * 2, nil
			})
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					result, err := system.CallSync(context.Background(), "math.double", i, 2*time.Second)
					Expect(err).NotTo(HaveOccurred())
					Expect(result).To(Equal(i * 2))
				}(i)
			}
			wg.Wait()
		})
	})

	Describe("contract discovery over the bus", func() {
		It("announces registrations to subscribers", func() {
			announced := make(chan bus.Message, 1)
			_, err := system.Subscribe("contracts.registered", "watcher", func(msg bus.Message) error {
				announced <- msg
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			v := semver.MustParse("1.0.0")
			Expect(system.RegisterContract(contract.ServiceContract{
				Name:       "vector.store",
				Version:    v,
				ProviderID: "vector-plugin",
				Methods:    []contract.MethodSignature{{Name: "upsert"}},
			})).To(Succeed())

			var msg bus.Message
			Eventually(announced, time.Second).Should(Receive(&msg))
			c := msg.Payload.(contract.ServiceContract)
			Expect(c.Name).To(Equal("vector.store"))

			found, err := system.FindContracts("vector.store", "^1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(1))
		})
	})
})
