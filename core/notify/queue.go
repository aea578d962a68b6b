package notify

import (
	"context"

	"github.com/coachingcentre/notes-store/api/background"
	"github.com/coachingcentre/notes-store/core/order"
	"github.com/sirupsen/logrus"
)

// Queue delivers on in-process background tasks. Pending deliveries are
// drained by background.Shutdown and lost on a crash.
type Queue struct {
	bg  *background.Background
	d   *Deliverer
	log logrus.FieldLogger
}

func NewQueue(bg *background.Background, d *Deliverer, log logrus.FieldLogger) *Queue {
	return &Queue{bg: bg, d: d, log: log}
}

func (q *Queue) OrderCreated(ctx context.Context, o order.Order) {
	q.enqueue(ctx, NewIntent(OrderCreated, o))
}

func (q *Queue) OrderPaid(ctx context.Context, o order.Order) {
	q.enqueue(ctx, NewIntent(OrderPaid, o))
}

func (q *Queue) enqueue(ctx context.Context, in Intent) {
	ctx = context.WithoutCancel(ctx)

	err := q.bg.Go(func() {
		if err := q.d.Deliver(ctx, in); err != nil {
			q.log.WithFields(logrus.Fields{
				"intent_id": in.ID,
				"order_id":  in.Order.ID,
			}).WithError(err).Error("email delivery abandoned")
		}
	})
	if err != nil {
		q.log.WithField("order_id", in.Order.ID).WithError(err).Error("queueing notification")
	}
}
