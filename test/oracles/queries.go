package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_open_dispute",
			SQL: `SELECT deal_id, COUNT(*) FROM disputes
                  WHERE status = 'open'
                  GROUP BY deal_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_disputed_iff_open_dispute",
			SQL: `SELECT d.id, d.status FROM deals d
                  WHERE (d.status = 'disputed'
                         AND NOT EXISTS (SELECT 1 FROM disputes dp WHERE dp.deal_id = d.id AND dp.status = 'open'))
                     OR (d.status <> 'disputed'
                         AND EXISTS (SELECT 1 FROM disputes dp WHERE dp.deal_id = d.id AND dp.status = 'open'))`,
		},
		{
			Name: "O3_rating_completes_deal",
			SQL: `SELECT r.id, d.status FROM ratings r
                  JOIN deals d ON d.id = r.deal_id
                  WHERE d.status <> 'completed'`,
		},
		{
			Name: "O4_trust_score_bounds",
			SQL: `SELECT id, trust_score FROM parties
                  WHERE trust_score < 0 OR trust_score > 5`,
		},
		{
			Name: "O5_trust_score_is_mean",
			SQL: `SELECT p.id, p.trust_score, agg.mean FROM parties p
                  JOIN (SELECT rated_id, ROUND(AVG(score)::numeric, 2) AS mean
                        FROM ratings GROUP BY rated_id) agg ON agg.rated_id = p.id
                  WHERE p.trust_score <> agg.mean`,
		},
		{
			Name: "O6_amount_bounds",
			SQL: `SELECT id, amount FROM deals
                  WHERE amount <= 0 OR amount > 100000`,
		},
		{
			Name: "O7_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_resolved_disputes_have_resolver",
			SQL: `SELECT id FROM disputes
                  WHERE status = 'resolved'
                    AND (resolved_by IS NULL OR resolved_at IS NULL)`,
		},
		{
			Name: "O9_timeline_never_empty",
			SQL: `SELECT d.id FROM deals d
                  WHERE NOT EXISTS (SELECT 1 FROM timeline_events e WHERE e.deal_id = d.id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
