package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type notifyJob struct {
	notification domain.Notification
}

var (
	once           sync.Once
	jobs           chan notifyJob
	workerCount    int
	jobBuf         int
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	bg             = context.Background()
	globalStore    Storage
	globalLog      *log.Logger
	workerWG       sync.WaitGroup
)

// shutdownNotifySender stops worker goroutines and clears shared state. It is intended for tests.
func shutdownNotifySender() {
	if jobs != nil {
		close(jobs)
		jobs = nil
	}

	workerWG.Wait()

	globalStore = nil
	globalLog = nil
	workerCount = 0
	jobBuf = 0
	enqueueTimeout = 0
	handoffTimeout = 0
	once = sync.Once{}
	workerWG = sync.WaitGroup{}
}

// initNotifySender starts the background workers that hand notifications to
// the relay queue so mutations never block on queue latency. Delivery is
// best-effort: a failed enqueue is logged and dropped.
func initNotifySender(store Storage, logger *log.Logger) {
	once.Do(func() {
		globalStore = store
		if logger == nil {
			panic("Logger is not initialized")
		}
		globalLog = logger

		workerCount = envInt("NOTIFY_WORKERS", 8)
		jobBuf = envInt("NOTIFY_BUFFER", 1024)
		enqueueTimeout = envDur("NOTIFY_TIMEOUT", 30*time.Second)
		handoffTimeout = envDur("NOTIFY_HANDOFF_TIMEOUT", 15*time.Millisecond)

		jobs = make(chan notifyJob, jobBuf)
		for i := 0; i < workerCount; i++ {
			workerWG.Add(1)
			go worker(i, jobs)
		}
		globalLog.Infof("notify sender started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workerCount, jobBuf, enqueueTimeout, handoffTimeout)
	})
}

func worker(id int, jobCh <-chan notifyJob) {
	defer workerWG.Done()
	for j := range jobCh {
		ctx, cancel := context.WithTimeout(bg, enqueueTimeout)
		err := globalStore.EnqueueNotification(ctx, j.notification)
		cancel()

		if err != nil {
			globalLog.Errorf("notification enqueue failed, err: %v, kind: %s, task: %s, worker: %d", err, j.notification.Kind, j.notification.TaskID, id)
		}
	}
}

func tryEnqueueNotification(job notifyJob) bool {
	if jobs == nil {
		return false
	}

	if ok, closed := trySendNonBlocking(jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan notifyJob, job notifyJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan notifyJob, job notifyJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
