package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/vanity-farm/internal/delivery"
	"github.com/cuongbtq/vanity-farm/internal/matcher"
	"github.com/cuongbtq/vanity-farm/internal/xrpl"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 16

// Hash fields of job:<id>.
const (
	fieldStatus       = "status"
	fieldMode         = "mode"
	fieldPrefix       = "prefix"
	fieldSuffix       = "suffix"
	fieldLength       = "len"
	fieldAlgorithm    = "algo"
	fieldSecret       = "deliverySecret"
	fieldSecretDigest = "secretDigest"
	fieldReceipt      = "txid"
	fieldCreatedAt    = "createdAt"
)

func jobKey(jobID string) string      { return "job:" + jobID }
func progressKey(jobID string) string { return "job:" + jobID + ":progress" }
func resultKey(jobID string) string   { return "job:" + jobID + ":out" }
func secretKey(jobID string) string   { return "job:" + jobID + ":secret" }
func receiptKey(tx string) string     { return "receipt:" + tx }

// RedisLedger stores jobs as hashes. Every mutation runs as a WATCH/MULTI/EXEC
// transaction over the job's keys and is retried on contention.
type RedisLedger struct {
	client *redis.Client
	opts   Options
}

// NewRedisLedger creates a ledger on client.
func NewRedisLedger(client *redis.Client, opts Options) *RedisLedger {
	return &RedisLedger{client: client, opts: opts.withDefaults()}
}

func (l *RedisLedger) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction retries exhausted: %w", redis.TxFailedErr)
}

func (l *RedisLedger) Create(ctx context.Context, job *Job) error {
	if err := prepareCreate(job, time.Now()); err != nil {
		return err
	}

	key := jobKey(job.ID)
	watched := []string{key}
	if job.ReceiptTx != "" {
		watched = append(watched, receiptKey(job.ReceiptTx))
	}

	err := l.transact(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, watched...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeJob(job))
			if job.ReceiptTx != "" {
				pipe.Set(ctx, receiptKey(job.ReceiptTx), job.ID, 0)
			}
			return nil
		})
		return err
	}, watched...)

	if err != nil && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return err
}

func (l *RedisLedger) Get(ctx context.Context, jobID string) (*Job, error) {
	var (
		fieldsCmd *redis.MapStringStringCmd
		secretCmd *redis.StringCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, jobKey(jobID))
		secretCmd = pipe.Get(ctx, secretKey(jobID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	fields := fieldsCmd.Val()
	if fields[fieldStatus] == "" {
		return nil, ErrNotFound
	}
	job, err := decodeJob(jobID, fields)
	if err != nil {
		return nil, err
	}
	if job.DeliverySecret == "" {
		job.DeliverySecret = secretCmd.Val()
	}
	return job, nil
}

func (l *RedisLedger) SetProgress(ctx context.Context, jobID string, p Progress) error {
	key := jobKey(jobID)
	return l.transact(ctx, func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, fieldStatus).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read job status: %w", err)
		}
		if Status(status) != StatusPaid {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, progressKey(jobID),
				"attempts", strconv.FormatUint(p.Attempts, 10),
				"rate", strconv.FormatFloat(p.Rate, 'f', -1, 64),
			)
			return nil
		})
		return err
	}, key)
}

func (l *RedisLedger) GetProgress(ctx context.Context, jobID string) (*Progress, error) {
	fields, err := l.client.HGetAll(ctx, progressKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}

	p := &Progress{}
	if v := fields["attempts"]; v != "" {
		if p.Attempts, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid attempts %q: %w", v, err)
		}
	}
	if v := fields["rate"]; v != "" {
		if p.Rate, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", v, err)
		}
	}
	return p, nil
}

func (l *RedisLedger) Complete(ctx context.Context, jobID string, env *delivery.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	key := jobKey(jobID)
	return l.transact(ctx, func(tx *redis.Tx) error {
		if err := requirePaid(ctx, tx, key); err != nil {
			return err
		}
		secret, err := tx.HGet(ctx, key, fieldSecret).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read delivery secret: %w", err)
		}

		// the secret lives only as long as the sealed result; the digest stays
		// with the record so an expired result still answers Gone
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, resultKey(jobID), data, l.opts.ResultTTL)
			if secret != "" {
				pipe.Set(ctx, secretKey(jobID), secret, l.opts.ResultTTL)
				pipe.HSet(ctx, key, fieldSecretDigest, tokenDigest(secret))
				pipe.HDel(ctx, key, fieldSecret)
			}
			pipe.HSet(ctx, key, fieldStatus, string(StatusComplete))
			pipe.Del(ctx, progressKey(jobID))
			if l.opts.RecordTTL > 0 {
				pipe.Expire(ctx, key, l.opts.RecordTTL)
			}
			return nil
		})
		return err
	}, key)
}

func (l *RedisLedger) Fail(ctx context.Context, jobID string) error {
	key := jobKey(jobID)
	return l.transact(ctx, func(tx *redis.Tx) error {
		if err := requirePaid(ctx, tx, key); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldStatus, string(StatusFailed))
			pipe.Del(ctx, progressKey(jobID))
			if l.opts.RecordTTL > 0 {
				pipe.Expire(ctx, key, l.opts.RecordTTL)
			}
			return nil
		})
		return err
	}, key)
}

func requirePaid(ctx context.Context, tx *redis.Tx, key string) error {
	status, err := tx.HGet(ctx, key, fieldStatus).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	if Status(status) != StatusPaid {
		return ErrInvalidTransition
	}
	return nil
}

func (l *RedisLedger) Redeem(ctx context.Context, jobID, token string) (*Redemption, error) {
	key := jobKey(jobID)
	outKey := resultKey(jobID)
	secKey := secretKey(jobID)

	var redemption *Redemption
	err := l.transact(ctx, func(tx *redis.Tx) error {
		redemption = nil

		values, err := tx.HMGet(ctx, key, fieldStatus, fieldSecret, fieldSecretDigest, fieldReceipt).Result()
		if err != nil {
			return fmt.Errorf("failed to read job: %w", err)
		}
		status, secret, digest, receipt := hashString(values[0]), hashString(values[1]), hashString(values[2]), hashString(values[3])
		if secret == "" {
			secret, err = tx.Get(ctx, secKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to read delivery secret: %w", err)
			}
		}

		blob, err := tx.Get(ctx, outKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read result: %w", err)
		}

		action, verdict := decideRedeem(redeemState{
			found:  status != "",
			status: Status(status),
			secret: secret,
			digest: digest,
			live:   len(blob) > 0,
		}, token)
		if action == redeemReject {
			return verdict
		}

		var env *delivery.Envelope
		if action == redeemDeliver {
			if env, err = delivery.UnmarshalEnvelope(blob); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, outKey, secKey)
			pipe.HDel(ctx, key, fieldSecret)
			pipe.HSet(ctx, key, fieldSecretDigest, tokenDigest(secret))
			return nil
		})
		if err != nil {
			return err
		}

		if action == redeemScrub {
			return verdict
		}
		redemption = &Redemption{Envelope: env, ReceiptTx: receipt}
		return nil
	}, key, outKey, secKey)

	if err != nil {
		return nil, err
	}
	return redemption, nil
}

func hashString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func encodeJob(job *Job) map[string]interface{} {
	return map[string]interface{}{
		fieldStatus:    string(job.Status),
		fieldMode:      string(job.Constraint.Mode),
		fieldPrefix:    job.Constraint.Prefix,
		fieldSuffix:    job.Constraint.Suffix,
		fieldLength:    strconv.Itoa(job.Constraint.Length),
		fieldAlgorithm: string(job.Algorithm),
		fieldSecret:    job.DeliverySecret,
		fieldReceipt:   job.ReceiptTx,
		fieldCreatedAt: job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeJob(jobID string, fields map[string]string) (*Job, error) {
	job := &Job{
		ID:     jobID,
		Status: Status(fields[fieldStatus]),
		Constraint: matcher.Constraint{
			Mode:   matcher.Mode(fields[fieldMode]),
			Prefix: fields[fieldPrefix],
			Suffix: fields[fieldSuffix],
		},
		Algorithm:      xrpl.ParseAlgorithm(fields[fieldAlgorithm]),
		DeliverySecret: fields[fieldSecret],
		ReceiptTx:      fields[fieldReceipt],
	}

	if v := fields[fieldLength]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid job length %q: %w", v, err)
		}
		job.Constraint.Length = n
	}
	if v := fields[fieldCreatedAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid job created_at %q: %w", v, err)
		}
		job.CreatedAt = t
	}
	return job, nil
}
