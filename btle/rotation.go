package btle

import (
	"time"

	"github.com/satori/go.uuid"
)

type serviceRecord struct {
	uuid            uuid.UUID
	characteristics map[uuid.UUID][]byte
	addedAt         time.Time
}

// insertion-ordered records viewed from head, so the order is always a
// cyclic shift of insertion order
type rotationSchedule struct {
	records []*serviceRecord
	head    int
}

func (r *rotationSchedule) len() int {
	return len(r.records)
}

func (r *rotationSchedule) find(u uuid.UUID) int {
	for i, record := range r.records {
		if uuid.Equal(record.uuid, u) {
			return i
		}
	}
	return -1
}

func (r *rotationSchedule) add(record *serviceRecord) {
	r.records = append(r.records, record)
}

func (r *rotationSchedule) remove(u uuid.UUID) (record *serviceRecord) {
	i := r.find(u)
	if i < 0 {
		return
	}
	record = r.records[i]
	r.records = append(r.records[:i], r.records[i+1:]...)
	if i < r.head {
		r.head--
	}
	if r.head >= len(r.records) {
		r.head = 0
	}
	return
}

// moves the head record to the tail
func (r *rotationSchedule) rotate() {
	if len(r.records) == 0 {
		return
	}
	r.head = (r.head + 1) % len(r.records)
}

func (r *rotationSchedule) order() (records []*serviceRecord) {
	records = make([]*serviceRecord, 0, len(r.records))
	records = append(records, r.records[r.head:]...)
	records = append(records, r.records[:r.head]...)
	return
}

// the uuids that fit in one advertisement, starting at head
func (r *rotationSchedule) selection(budget int) (uuids []uuid.UUID) {
	for i, record := range r.order() {
		if i >= budget {
			break
		}
		uuids = append(uuids, record.uuid)
	}
	return
}
