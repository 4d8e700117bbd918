// Package matchmaking pairs waiting players strictly by arrival order.
package matchmaking

import "sync"

// Queue is a FIFO of players waiting for a direct 1v1 pairing.
type Queue struct {
	mu      sync.Mutex
	waiting []string
	members map[string]bool
}

func NewQueue() *Queue {
	return &Queue{members: make(map[string]bool)}
}

// Enqueue adds the player to the back of the queue. Reports false if the
// player is already waiting.
func (q *Queue) Enqueue(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.members[playerID] {
		return false
	}
	q.waiting = append(q.waiting, playerID)
	q.members[playerID] = true
	return true
}

// Requeue puts a player back at the front, ahead of everyone waiting.
// Used when a formed pair falls through on the other side.
func (q *Queue) Requeue(playerID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.members[playerID] {
		return
	}
	q.waiting = append([]string{playerID}, q.waiting...)
	q.members[playerID] = true
}

// Cancel removes the player if still waiting.
func (q *Queue) Cancel(playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.members[playerID] {
		return false
	}
	delete(q.members, playerID)
	for i, id := range q.waiting {
		if id == playerID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	return true
}

// PopPair removes and returns the two longest-waiting players.
func (q *Queue) PopPair() (p1, p2 string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) < 2 {
		return "", "", false
	}
	p1, p2 = q.waiting[0], q.waiting[1]
	q.waiting = q.waiting[2:]
	delete(q.members, p1)
	delete(q.members, p2)
	return p1, p2, true
}

// Waiting reports the current queue depth.
func (q *Queue) Waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
