// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/warden/internal/anomaly"
	"github.com/holomush/warden/internal/auditlog"
	"github.com/holomush/warden/internal/store"
)

var _ = Describe("Postgres", func() {
	var (
		ctx    context.Context
		pg     *store.Postgres
		writer *auditlog.Writer
	)

	BeforeEach(func() {
		ctx = context.Background()
		resetTables(ctx)
		pg = store.NewPostgres(pool)
		writer = auditlog.NewWriter(pg)
	})

	appendN := func(w *auditlog.Writer, n int) {
		for i := range n {
			_, err := w.Append(ctx, auditlog.Input{
				ActorID:    int64(i + 1),
				TargetID:   int64(i + 100),
				ActionType: "UPDATE_ROLE",
				Detail:     json.RawMessage(fmt.Sprintf(`{"seq":%d,"role":"security","ratio":1.50}`, i)),
			})
			Expect(err).NotTo(HaveOccurred())
		}
	}

	Describe("audit chain", func() {
		It("verifies a serially written chain after a round trip", func() {
			appendN(writer, 25)

			res, err := auditlog.VerifyStore(ctx, pg, 10, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Checked).To(Equal(25))
			Expect(res.FirstMismatch).To(Equal(-1))

			records, err := pg.ListAscending(ctx, 0, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].PreviousHash).To(BeNil())
		})

		It("never forks under concurrent appends from separate writers", func() {
			appendN(writer, 1)

			other := auditlog.NewWriter(store.NewPostgres(pool))
			var wg sync.WaitGroup
			for i := range 20 {
				w := writer
				if i%2 == 1 {
					w = other
				}
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := w.Append(ctx, auditlog.Input{ActorID: 1, TargetID: int64(i + 1), ActionType: "LOGIN"})
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			records, err := pg.ListAscending(ctx, 0, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(21))

			seen := map[string]bool{}
			for _, r := range records[1:] {
				Expect(seen[*r.PreviousHash]).To(BeFalse(), "previous hash %s reused", *r.PreviousHash)
				seen[*r.PreviousHash] = true
			}
			_, err = auditlog.Verify(records)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects updates and deletes", func() {
			appendN(writer, 1)

			_, err := pool.Exec(ctx, `UPDATE audit_log SET action_type = 'TAMPERED'`)
			Expect(err).To(MatchError(ContainSubstring("append-only")))

			_, err = pool.Exec(ctx, `DELETE FROM audit_log`)
			Expect(err).To(MatchError(ContainSubstring("append-only")))
		})

		It("rejects a second genesis record", func() {
			appendN(writer, 1)

			_, err := pool.Exec(ctx,
				`INSERT INTO audit_log (actor_id, target_id, action_type, hash, created_at) VALUES (1, 1, 'X', 'forged', now())`)
			Expect(err).To(HaveOccurred())
		})

		It("paginates 120 records as 50, 50 and 20", func() {
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			tick := 0
			clocked := auditlog.NewWriter(pg, auditlog.WithClock(func() time.Time {
				tick++
				return base.Add(time.Duration(tick) * time.Second)
			}))
			appendN(clocked, 120)

			reader := auditlog.NewReader(pg)
			var sizes []int
			cursor := ""
			for {
				page, err := reader.List(ctx, 50, cursor)
				Expect(err).NotTo(HaveOccurred())
				sizes = append(sizes, len(page.Records))
				if !page.HasMore {
					break
				}
				cursor = page.NextCursor
			}
			Expect(sizes).To(Equal([]int{50, 50, 20}))
		})
	})

	Describe("anomaly batches", func() {
		It("stores a batch in one operation", func() {
			actor := int64(5)
			batch := ulid.Make()
			entries := make([]anomaly.Entry, 3)
			for i := range entries {
				entries[i] = anomaly.Entry{
					ActorID:        &actor,
					CorrelationID:  "corr",
					ActionName:     "FETCH",
					TargetResource: "audit_log",
					Signals:        []anomaly.Signal{{Name: anomaly.SignalAdminEndpoint, Score: 20}},
					TotalScore:     20,
					Metadata:       anomaly.Metadata{SchemaVersion: anomaly.MetadataSchemaVersion, Route: "/admin/audit-logs"},
					CreatedAt:      time.Now().UTC(),
					BatchID:        batch,
				}
			}
			Expect(pg.InsertAnomalies(ctx, entries)).To(Succeed())

			var n int
			Expect(pool.QueryRow(ctx, `SELECT count(*) FROM anomaly_log WHERE batch_id = $1`, batch.String()).Scan(&n)).To(Succeed())
			Expect(n).To(Equal(3))
		})
	})
})

var _ = Describe("Migrator", func() {
	It("rolls back and reapplies a step", func() {
		migrator, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		defer migrator.Close()

		latest, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(latest).To(Equal(uint(3)))

		Expect(migrator.Steps(-1)).To(Succeed())
		v, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(latest - 1))

		Expect(migrator.Up()).To(Succeed())
		pending, err := migrator.PendingMigrations()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})
})
