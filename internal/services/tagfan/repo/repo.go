// Package repo loads the broker topic configuration and records the
// typed publish log
package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"takt/internal/core/payload"
	"takt/internal/modkit/repokit"
	"takt/internal/services/tagfan/domain"
)

type (
	pg     struct{ q repokit.Queryer }
	binder struct{}
)

// NewPG constructs a repo binder for postgres
func NewPG() repokit.Binder[Storage] { return binder{} }

// Bind implements repokit.Binder
func (binder) Bind(q repokit.Queryer) Storage { return &pg{q: q} }

// Storage is the fan-out config and log surface
type Storage interface {
	// TopicConfigs returns every configured topic with its members in
	// configured order
	TopicConfigs(ctx context.Context) ([]domain.TopicConfig, error)

	// RoleNames maps raw user levels onto display names
	RoleNames(ctx context.Context) (map[string]string, error)

	// RejectNames maps raw reject codes onto display names
	RejectNames(ctx context.Context) (map[string]string, error)

	// InsertPublishLog appends one typed row per publish
	InsertPublishLog(ctx context.Context, rows []domain.PublishLogRow) error
}

// TopicConfigs implements Storage
func (s *pg) TopicConfigs(ctx context.Context) ([]domain.TopicConfig, error) {
	const sql = `
		SELECT c.config_id, c.topic_id, c.kind, c.topic, c.qos, c.retain,
		       m.tag_path
		FROM broker_topic_config c
		JOIN broker_topic_member m ON m.topic_id = c.topic_id
		WHERE c.is_active = true
		ORDER BY c.topic_id, m.ord`

	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TopicConfig
	for rows.Next() {
		var (
			configID, topicID int64
			kind, topicStr    string
			qos               int
			retain            bool
			path              string
		)
		if err := rows.Scan(&configID, &topicID, &kind, &topicStr, &qos, &retain, &path); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].TopicID == topicID {
			out[n-1].Paths = append(out[n-1].Paths, path)
			continue
		}
		out = append(out, domain.TopicConfig{
			ConfigID: configID,
			TopicID:  topicID,
			Kind:     domain.ParseKind(kind),
			Topic:    topicStr,
			QoS:      byte(qos),
			Retain:   retain,
			Paths:    []string{path},
		})
	}
	return out, rows.Err()
}

// RoleNames implements Storage
func (s *pg) RoleNames(ctx context.Context) (map[string]string, error) {
	return s.nameMap(ctx, `SELECT user_level, role_name FROM user_role_names`)
}

// RejectNames implements Storage
func (s *pg) RejectNames(ctx context.Context) (map[string]string, error) {
	return s.nameMap(ctx, `SELECT reject_code, reject_name FROM reject_code_names`)
}

func (s *pg) nameMap(ctx context.Context, sql string) (map[string]string, error) {
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, err
		}
		out[key] = name
	}
	return out, rows.Err()
}

// InsertPublishLog implements Storage
func (s *pg) InsertPublishLog(ctx context.Context, rows []domain.PublishLogRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO broker_publish_log
		(config_id, topic_id, qos, retain, value_type, value_num, value_text,
		 value_bool, quality_ok, quality, src_ts, published_at)
		VALUES `)

	args := make([]any, 0, len(rows)*11)
	for i, r := range rows {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i*11 + 1
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,now())",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			r.ConfigID, r.TopicID, int(r.QoS), r.Retain, int(r.Value.Kind),
			numArg(r.Value), textArg(r.Value), boolArg(r.Value),
			r.QualityOK, r.Quality, r.SrcTS)
	}

	_, err := s.q.Exec(ctx, sb.String(), args...)
	return err
}

func numArg(v payload.Value) any {
	if v.Kind == payload.KindNum {
		return v.Num
	}
	return nil
}

func textArg(v payload.Value) any {
	switch v.Kind {
	case payload.KindText:
		return v.Text
	case payload.KindDatetime:
		return v.Time.UTC().Format(time.RFC3339)
	}
	return nil
}

func boolArg(v payload.Value) any {
	if v.Kind == payload.KindBool {
		return v.Bool
	}
	return nil
}
