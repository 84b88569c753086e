package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tablelift/cadence/internal/models"
)

// Restaurant repository errors.
var (
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrInvalidRestaurant  = errors.New("invalid restaurant")
)

// RestaurantRepository handles restaurant lead persistence.
type RestaurantRepository struct {
	db *DB
}

// NewRestaurantRepository creates a new RestaurantRepository.
func NewRestaurantRepository(db *DB) *RestaurantRepository {
	return &RestaurantRepository{db: db}
}

// Create inserts a new restaurant record.
func (r *RestaurantRepository) Create(ctx context.Context, rest *models.Restaurant) error {
	if rest.Name == "" || rest.OrgID == "" {
		return ErrInvalidRestaurant
	}
	if rest.ID == "" {
		rest.ID = uuid.New().String()
	}
	if rest.CreatedAt.IsZero() {
		rest.CreatedAt = time.Now().UTC()
	}

	var painpointsJSON *string
	if len(rest.Painpoints) > 0 {
		data, err := json.Marshal(rest.Painpoints)
		if err != nil {
			return fmt.Errorf("failed to marshal painpoints: %w", err)
		}
		s := string(data)
		painpointsJSON = &s
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO restaurants (
			id, org_id, name, contact_name, email, phone, cuisine, city, notes, painpoints_json, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rest.ID,
		rest.OrgID,
		rest.Name,
		nullString(rest.ContactName),
		nullString(rest.Email),
		nullString(rest.Phone),
		nullString(rest.Cuisine),
		nullString(rest.City),
		nullString(rest.Notes),
		painpointsJSON,
		rest.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert restaurant: %w", err)
	}
	return nil
}

// Get retrieves a restaurant by ID within an organization.
func (r *RestaurantRepository) Get(ctx context.Context, orgID, id string) (*models.Restaurant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, contact_name, email, phone, cuisine, city, notes, painpoints_json, created_at
		FROM restaurants WHERE id = ? AND org_id = ?
	`, id, orgID)

	var rest models.Restaurant
	var contactName, email, phone, cuisine, city, notes, painpointsJSON sql.NullString
	var createdAt string

	err := row.Scan(
		&rest.ID,
		&rest.OrgID,
		&rest.Name,
		&contactName,
		&email,
		&phone,
		&cuisine,
		&city,
		&notes,
		&painpointsJSON,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRestaurantNotFound
		}
		return nil, fmt.Errorf("failed to scan restaurant: %w", err)
	}

	rest.ContactName = contactName.String
	rest.Email = email.String
	rest.Phone = phone.String
	rest.Cuisine = cuisine.String
	rest.City = city.String
	rest.Notes = notes.String
	if painpointsJSON.Valid {
		if err := json.Unmarshal([]byte(painpointsJSON.String), &rest.Painpoints); err != nil {
			r.db.logger.Warn().Err(err).Str("restaurant_id", rest.ID).Msg("failed to parse painpoints")
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rest.CreatedAt = t
	}
	return &rest, nil
}
