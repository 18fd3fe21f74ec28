package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deskrelay/deskrelay/internal/pkg/cache"
	"github.com/deskrelay/deskrelay/internal/pkg/database"
)

const (
	ticketMessagesKey = "ticket:counters:messages"
	pipelineStatsKey  = "pipeline:counters"
)

// Pipeline counter fields
const (
	FieldEventsReceived    = "events_received"
	FieldDuplicatesDropped = "duplicates_dropped"
	FieldGateDegraded      = "gate_degraded"
	FieldBreachesEmitted   = "breaches_emitted"
)

// AddTicketMessage increments the pending message counter for a ticket in Redis
func AddTicketMessage(ticketID uint) error {
	ctx := context.Background()
	field := strconv.FormatUint(uint64(ticketID), 10)
	return cache.GetClient().HIncrBy(ctx, ticketMessagesKey, field, 1).Err()
}

// AddPipelineEvent increments one of the pipeline counters
func AddPipelineEvent(field string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, pipelineStatsKey, field, 1).Err()
}

// PipelineStats returns the current pipeline counters
func PipelineStats() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, pipelineStatsKey).Result()
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(raw))
	for field, val := range raw {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			stats[field] = n
		}
	}
	return stats, nil
}

// FlushAll flushes pending ticket message counts to the database
func FlushAll() error {
	return flushHashToTable(ticketMessagesKey, "tickets", "message_count")
}

// flushHashToTable drains a Redis hash atomically and applies batched increments to the table.
// Uses RENAME to a temporary key for atomic drain without losing in-flight increments.
func flushHashToTable(redisKey, table, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	// Build batched UPDATE using CASE WHEN id THEN inc
	type pair struct {
		id  uint64
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for k, v := range data {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{id: id, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })

	var sb strings.Builder
	ids := make([]interface{}, 0, len(pairs))
	sb.WriteString(fmt.Sprintf("UPDATE %s SET %s = %s + CASE id", table, column, column))
	for _, p := range pairs {
		sb.WriteString(fmt.Sprintf(" WHEN %d THEN %d", p.id, p.inc))
		ids = append(ids, p.id)
	}
	sb.WriteString(" ELSE 0 END WHERE id IN (")
	for i := range ids {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("?")
	}
	sb.WriteString(")")

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	return db.Exec(sb.String(), ids...).Error
}
