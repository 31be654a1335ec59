package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"wallcalc/internal/converter/aggregate"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/models"
)

var ErrNotFound = errors.New("not found")

//go:embed migrations/*.sql
var migrations embed.FS

// ============================================================
// SQLite Repository
// ============================================================

type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Init применяет миграции. Повторный вызов безопасен.
func (r *Repository) Init(ctx context.Context) error {
	if err := r.runMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ============================================================
// Projects
// ============================================================

// SaveProject сохраняет иерархию проекта целиком, заменяя прежнюю.
// Пустой ID заполняется новым UUID.
func (r *Repository) SaveProject(ctx context.Context, p *models.Project) error {
	if _, err := aggregate.New(*p, nil); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO projects (id, name) VALUES (?, ?)
            ON CONFLICT (id) DO UPDATE SET name = excluded.name
        `, p.ID, p.Name)
		if err != nil {
			return fmt.Errorf("upsert project: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM buildings WHERE project_id = ?`, p.ID); err != nil {
			return fmt.Errorf("clear buildings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM floors WHERE project_id = ?`, p.ID); err != nil {
			return fmt.Errorf("clear floors: %w", err)
		}

		for i, b := range p.Buildings {
			_, err := tx.ExecContext(ctx, `
                INSERT INTO buildings (project_id, id, label, position) VALUES (?, ?, ?, ?)
            `, p.ID, b.ID, b.Label, i)
			if err != nil {
				return fmt.Errorf("insert building %s: %w", b.ID, err)
			}
			for j, f := range b.Floors {
				if err := insertFloor(ctx, tx, p.ID, b.ID, j, f); err != nil {
					return err
				}
			}
		}
		for j, f := range p.SharedFloors {
			if err := insertFloor(ctx, tx, p.ID, "", j, f); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertFloor(ctx context.Context, tx *sql.Tx, projectID, buildingID string, pos int, f models.Floor) error {
	levels, err := json.Marshal(f.Levels)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO floors (project_id, building_id, id, label, below_grade, levels, position)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, projectID, buildingID, f.ID, f.Label, f.BelowGrade, string(levels), pos)
	if err != nil {
		return fmt.Errorf("insert floor %s: %w", f.ID, err)
	}
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var p models.Project
	row := r.db.QueryRowContext(ctx, `SELECT id, name FROM projects WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, label FROM buildings WHERE project_id = ? ORDER BY position
    `, id)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int)
	for rows.Next() {
		var b models.Building
		if err := rows.Scan(&b.ID, &b.Label); err != nil {
			rows.Close()
			return nil, err
		}
		index[b.ID] = len(p.Buildings)
		p.Buildings = append(p.Buildings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.QueryContext(ctx, `
        SELECT building_id, id, label, below_grade, levels
        FROM floors WHERE project_id = ? ORDER BY position
    `, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			buildingID, levels string
			f                  models.Floor
		)
		if err := rows.Scan(&buildingID, &f.ID, &f.Label, &f.BelowGrade, &levels); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(levels), &f.Levels); err != nil {
			return nil, fmt.Errorf("floor %s levels: %w", f.ID, err)
		}
		if buildingID == "" {
			p.SharedFloors = append(p.SharedFloors, f)
			continue
		}
		i, ok := index[buildingID]
		if !ok {
			log.Printf("[STORE] floor %s references missing building %s", f.ID, buildingID)
			continue
		}
		p.Buildings[i].Floors = append(p.Buildings[i].Floors, f)
	}
	return &p, rows.Err()
}

// ============================================================
// Categories & rule sets
// ============================================================

func (r *Repository) SaveCategories(ctx context.Context, projectID string, cats []models.WallCategory) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return replaceCategories(ctx, tx, projectID, cats)
	})
}

func replaceCategories(ctx context.Context, tx *sql.Tx, projectID string, cats []models.WallCategory) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	for i, c := range cats {
		if c.ID == "" {
			return fmt.Errorf("category %d: empty id", i)
		}
		_, err := tx.ExecContext(ctx, `
            INSERT INTO categories (project_id, id, code, label, position_type, height_type, height_formula, color, position)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        `, projectID, c.ID, c.Code, c.Label, c.PositionType, c.HeightType, c.HeightFormula, c.Color, i)
		if err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r *Repository) ListCategories(ctx context.Context, projectID string) ([]models.WallCategory, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, code, label, position_type, height_type, height_formula, color
        FROM categories WHERE project_id = ? ORDER BY position
    `, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cats := []models.WallCategory{}
	for rows.Next() {
		var c models.WallCategory
		if err := rows.Scan(&c.ID, &c.Code, &c.Label, &c.PositionType, &c.HeightType, &c.HeightFormula, &c.Color); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// SaveRuleSet сохраняет именованный набор правил. Категории из набора,
// если они есть, становятся категориями проекта.
func (r *Repository) SaveRuleSet(ctx context.Context, projectID string, rs models.RuleSet) error {
	if rs.Name == "" {
		return fmt.Errorf("rule set: empty name")
	}
	if _, err := classify.New(rs.Rules); err != nil {
		return fmt.Errorf("rule set %s: %w", rs.Name, err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM layer_rules WHERE project_id = ? AND rule_set = ?`, projectID, rs.Name)
		if err != nil {
			return fmt.Errorf("clear rules: %w", err)
		}
		for i, rule := range rs.Rules {
			_, err := tx.ExecContext(ctx, `
                INSERT INTO layer_rules (project_id, rule_set, priority, pattern, category_id, position)
                VALUES (?, ?, ?, ?, ?, ?)
            `, projectID, rs.Name, rule.Priority, rule.Pattern, rule.CategoryID, i)
			if err != nil {
				return fmt.Errorf("insert rule %q: %w", rule.Pattern, err)
			}
		}
		if len(rs.Categories) > 0 {
			return replaceCategories(ctx, tx, projectID, rs.Categories)
		}
		return nil
	})
}

// GetRuleSet возвращает правила набора в исходном порядке. Категории
// хранятся на уровне проекта, см. ListCategories.
func (r *Repository) GetRuleSet(ctx context.Context, projectID, name string) (*models.RuleSet, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT priority, pattern, category_id FROM layer_rules
        WHERE project_id = ? AND rule_set = ? ORDER BY position
    `, projectID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rs := models.RuleSet{Name: name}
	for rows.Next() {
		var rule models.LayerRule
		if err := rows.Scan(&rule.Priority, &rule.Pattern, &rule.CategoryID); err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rule set %s: %w", name, ErrNotFound)
	}
	return &rs, nil
}

func (r *Repository) ListRuleSets(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT DISTINCT rule_set FROM layer_rules WHERE project_id = ? ORDER BY rule_set
    `, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ============================================================
// Runs & segments
// ============================================================

// SaveRun сохраняет отчет и сегменты прогона. Сегменты прежнего
// сохранения того же прогона заменяются, журнал правок остается.
func (r *Repository) SaveRun(ctx context.Context, projectID string, res *models.Result) error {
	report, err := json.Marshal(res.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	runID := res.Report.RunID

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO runs (id, project_id, source, encoding, report) VALUES (?, ?, ?, ?, ?)
            ON CONFLICT (id) DO UPDATE SET
                project_id = excluded.project_id,
                source = excluded.source,
                encoding = excluded.encoding,
                report = excluded.report
        `, runID, projectID, res.Report.Source, res.Report.Encoding, string(report))
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO segments (run_id, id, seq, layer, source_kind, handle, block_path, points,
                                  closed, length, category_id, provenance, building_id, floor_id)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        `)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, s := range res.Segments {
			blockPath, err := json.Marshal(s.BlockPath)
			if err != nil {
				return err
			}
			points, err := json.Marshal(s.Points)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx, runID, s.ID, i, s.Layer, string(s.SourceKind), s.Handle,
				string(blockPath), string(points), s.Closed, s.Length, s.CategoryID,
				string(s.Provenance), s.BuildingID, s.FloorID)
			if err != nil {
				return fmt.Errorf("insert segment %s: %w", s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[STORE] run %s saved: %d segments", runID, len(res.Segments))
	return nil
}

// LoadRun восстанавливает отчет и сегменты сохраненного прогона.
func (r *Repository) LoadRun(ctx context.Context, runID string) (*models.Result, error) {
	var report string
	row := r.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, runID)
	if err := row.Scan(&report); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}

	res := &models.Result{Report: &models.Report{}}
	if err := json.Unmarshal([]byte(report), res.Report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	segs, err := r.ListSegments(ctx, runID)
	if err != nil {
		return nil, err
	}
	res.Segments = segs
	return res, nil
}

func (r *Repository) ListSegments(ctx context.Context, runID string) ([]models.WallSegment, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, layer, source_kind, handle, block_path, points, closed, length,
               category_id, provenance, building_id, floor_id
        FROM segments WHERE run_id = ? ORDER BY seq
    `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	segs := []models.WallSegment{}
	for rows.Next() {
		var (
			s                 models.WallSegment
			kind, provenance  string
			blockPath, points string
		)
		err := rows.Scan(&s.ID, &s.Layer, &kind, &s.Handle, &blockPath, &points, &s.Closed,
			&s.Length, &s.CategoryID, &provenance, &s.BuildingID, &s.FloorID)
		if err != nil {
			return nil, err
		}
		s.SourceKind = models.EntityKind(kind)
		s.Provenance = models.Provenance(provenance)
		if err := json.Unmarshal([]byte(blockPath), &s.BlockPath); err != nil {
			return nil, fmt.Errorf("segment %s block path: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(points), &s.Points); err != nil {
			return nil, fmt.Errorf("segment %s points: %w", s.ID, err)
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}

// SetSegmentCategory - ручное назначение категории сохраненному сегменту:
// пишет запись в журнал и переводит сегмент в manual.
func (r *Repository) SetSegmentCategory(ctx context.Context, runID, segmentID, categoryID string) (*models.SegmentEdit, error) {
	if categoryID == "" {
		return nil, fmt.Errorf("segment %s: empty category", segmentID)
	}
	return r.editSegment(ctx, runID, segmentID, categoryID, models.ProvenanceManual)
}

// ClearSegmentCategory снимает ручное назначение: сегмент получает
// категорию по правилам (categoryID) и provenance auto. Снятие тоже
// попадает в журнал.
func (r *Repository) ClearSegmentCategory(ctx context.Context, runID, segmentID, categoryID string) (*models.SegmentEdit, error) {
	return r.editSegment(ctx, runID, segmentID, categoryID, models.ProvenanceAuto)
}

func (r *Repository) editSegment(ctx context.Context, runID, segmentID, categoryID string, prov models.Provenance) (*models.SegmentEdit, error) {
	edit := &models.SegmentEdit{RunID: runID, SegmentID: segmentID, NewCategory: categoryID}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
            SELECT category_id FROM segments WHERE run_id = ? AND id = ?
        `, runID, segmentID)
		if err := row.Scan(&edit.OldCategory); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("segment %s/%s: %w", runID, segmentID, ErrNotFound)
			}
			return err
		}

		_, err := tx.ExecContext(ctx, `
            UPDATE segments SET category_id = ?, provenance = ? WHERE run_id = ? AND id = ?
        `, categoryID, string(prov), runID, segmentID)
		if err != nil {
			return fmt.Errorf("update segment: %w", err)
		}

		out, err := tx.ExecContext(ctx, `
            INSERT INTO edit_history (run_id, segment_id, old_category, new_category) VALUES (?, ?, ?, ?)
        `, runID, segmentID, edit.OldCategory, categoryID)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if edit.ID, err = out.LastInsertId(); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT edited_at FROM edit_history WHERE id = ?`, edit.ID).Scan(&edit.EditedAt)
	})
	if err != nil {
		return nil, err
	}
	return edit, nil
}

// UpdateClassification переносит в сохраненный прогон результат
// переклассификации: отчет, категории и provenance сегментов. Журнал
// не пишется, правки по правилам ручными не считаются. Несохраненный
// прогон - ErrNotFound.
func (r *Repository) UpdateClassification(ctx context.Context, res *models.Result) error {
	report, err := json.Marshal(res.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	runID := res.Report.RunID

	return r.withTx(ctx, func(tx *sql.Tx) error {
		out, err := tx.ExecContext(ctx, `UPDATE runs SET report = ? WHERE id = ?`, string(report), runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		n, err := out.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}

		stmt, err := tx.PrepareContext(ctx, `
            UPDATE segments SET category_id = ?, provenance = ? WHERE run_id = ? AND id = ?
        `)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range res.Segments {
			if _, err := stmt.ExecContext(ctx, s.CategoryID, string(s.Provenance), runID, s.ID); err != nil {
				return fmt.Errorf("update segment %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// History - журнал правок прогона; segmentID != "" сужает до одного сегмента.
func (r *Repository) History(ctx context.Context, runID, segmentID string) ([]models.SegmentEdit, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, run_id, segment_id, old_category, new_category, edited_at
        FROM edit_history
        WHERE run_id = ? AND (? = '' OR segment_id = ?)
        ORDER BY id
    `, runID, segmentID, segmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edits := []models.SegmentEdit{}
	for rows.Next() {
		var e models.SegmentEdit
		if err := rows.Scan(&e.ID, &e.RunID, &e.SegmentID, &e.OldCategory, &e.NewCategory, &e.EditedAt); err != nil {
			return nil, err
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// ============================================================
// Migrations & helpers
// ============================================================

func (r *Repository) runMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, e := range entries {
		data, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration: %w", err)
		}
		if _, err := r.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// OpenSQLite открывает sqlite по указанному пути.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
