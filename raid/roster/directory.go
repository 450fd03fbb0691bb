// Package roster is the member directory: identities, roles, permissions,
// PIN credentials and the two BiS target sets of every member.
package roster

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrBadCredentials is returned by VerifyPin for an unknown name or wrong PIN.
var ErrBadCredentials = errors.New("roster: invalid name or pin")

// PinCost is the bcrypt cost used for PIN hashes.
var PinCost = bcrypt.DefaultCost

const (
	generatedPinLen = 6
	maxNameLen      = 64
)

// Patch lists the profile fields Update may change. Nil fields are left alone.
type Patch struct {
	Name     *string
	Role     *model.Role
	ImageURL *string
}

// Directory owns Member records and their BiS sets.
type Directory struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewDirectory(db *gorm.DB, logger *zap.Logger) *Directory {
	return &Directory{db: db, logger: logger}
}

// Create adds a member with a generated PIN. The plaintext PIN is returned
// once and never stored.
func (d *Directory) Create(ctx context.Context, name string, role model.Role) (*model.Member, string, error) {
	return d.create(ctx, name, role, model.PermissionUser)
}

func (d *Directory) create(ctx context.Context, name string, role model.Role, perm model.Permission) (*model.Member, string, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, "", err
	}
	if role == "" {
		role = model.RoleDPS
	}
	if !role.Valid() {
		return nil, "", raid.Invalid("role", fmt.Sprintf("unknown role %q", role))
	}

	pin, err := generatePin()
	if err != nil {
		return nil, "", err
	}
	hash, err := hashPin(pin)
	if err != nil {
		return nil, "", err
	}

	m := &model.Member{
		ID:         uuid.NewString(),
		Name:       name,
		Role:       role,
		Permission: perm,
		PinHash:    hash,
	}
	if err := d.db.WithContext(ctx).Create(m).Error; err != nil {
		if raid.IsUniqueViolation(err) {
			c := &raid.ConflictError{Entity: "member", Key: name}
			if existing, gerr := d.GetByName(ctx, name); gerr == nil {
				c.ExistingID = existing.ID
			}
			return nil, "", c
		}
		return nil, "", err
	}
	return m, pin, nil
}

// Get returns the member with both BiS sets loaded.
func (d *Directory) Get(ctx context.Context, id string) (*model.Member, error) {
	var m model.Member
	if err := d.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, raid.NotFound("member", id)
		}
		return nil, err
	}
	if err := loadSets(d.db.WithContext(ctx), []*model.Member{&m}); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByName looks a member up by display name.
func (d *Directory) GetByName(ctx context.Context, name string) (*model.Member, error) {
	var m model.Member
	if err := d.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, raid.NotFound("member", name)
		}
		return nil, err
	}
	if err := loadSets(d.db.WithContext(ctx), []*model.Member{&m}); err != nil {
		return nil, err
	}
	return &m, nil
}

// Exists reports whether id names a member.
func (d *Directory) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns every member ordered by name, with BiS sets loaded.
func (d *Directory) List(ctx context.Context) ([]*model.Member, error) {
	var members []*model.Member
	if err := d.db.WithContext(ctx).Order("name").Find(&members).Error; err != nil {
		return nil, err
	}
	if err := loadSets(d.db.WithContext(ctx), members); err != nil {
		return nil, err
	}
	return members, nil
}

func (d *Directory) Count(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&model.Member{}).Count(&n).Error
	return n, err
}

// Update applies p to the member's profile.
func (d *Directory) Update(ctx context.Context, id string, p Patch) (*model.Member, error) {
	updates := map[string]any{}
	if p.Name != nil {
		name, err := normalizeName(*p.Name)
		if err != nil {
			return nil, err
		}
		updates["name"] = name
	}
	if p.Role != nil {
		if !p.Role.Valid() {
			return nil, raid.Invalid("role", fmt.Sprintf("unknown role %q", *p.Role))
		}
		updates["role"] = *p.Role
	}
	if p.ImageURL != nil {
		if *p.ImageURL == "" {
			updates["image_url"] = nil
		} else {
			updates["image_url"] = *p.ImageURL
		}
	}
	if len(updates) > 0 {
		res := d.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if raid.IsUniqueViolation(res.Error) {
				return nil, &raid.ConflictError{Entity: "member", Key: fmt.Sprint(updates["name"])}
			}
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, raid.NotFound("member", id)
		}
	}
	return d.Get(ctx, id)
}

// Delete removes the member with their BiS items and acquisition rows.
// Assignments that reference the member are kept.
func (d *Directory) Delete(ctx context.Context, id string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&model.Member{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return raid.NotFound("member", id)
		}
		if err := tx.Where("member_id = ?", id).Delete(&model.BisItem{}).Error; err != nil {
			return err
		}
		return tx.Where("member_id = ?", id).Delete(&model.AcquisitionState{}).Error
	})
}

// SetBisLink replaces the active link and item list of one spec. Acquisition
// rows recorded under earlier links are left untouched.
func (d *Directory) SetBisLink(ctx context.Context, id string, spec model.SpecType, link *string, items []model.GearItem) (*model.Member, error) {
	if err := raid.ValidateGearSet(spec); err != nil {
		return nil, err
	}
	if link != nil {
		l := strings.TrimSpace(*link)
		if l == "" {
			link = nil
		} else {
			link = &l
		}
	}
	rows, err := normalizeItems(id, spec, items)
	if err != nil {
		return nil, err
	}

	column := "main_spec_link"
	if spec == model.SpecOff {
		column = "off_spec_link"
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Member{}).Where("id = ?", id).Update(column, link)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return raid.NotFound("member", id)
		}
		if err := tx.Where("member_id = ? AND spec_type = ?", id, spec).Delete(&model.BisItem{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, id)
}

// SetPermission changes the member's access level.
func (d *Directory) SetPermission(ctx context.Context, id string, perm model.Permission) (*model.Member, error) {
	if !perm.Valid() {
		return nil, raid.Invalid("permission", fmt.Sprintf("unknown permission %q", perm))
	}
	res := d.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Update("permission", perm)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, raid.NotFound("member", id)
	}
	return d.Get(ctx, id)
}

// SetPin replaces the member's PIN. A PIN is 4 to 8 decimal digits.
func (d *Directory) SetPin(ctx context.Context, id, pin string) error {
	if err := ValidatePin(pin); err != nil {
		return err
	}
	hash, err := hashPin(pin)
	if err != nil {
		return err
	}
	res := d.db.WithContext(ctx).Model(&model.Member{}).Where("id = ?", id).Update("pin_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return raid.NotFound("member", id)
	}
	return nil
}

// VerifyPin authenticates a member by name and PIN.
func (d *Directory) VerifyPin(ctx context.Context, name, pin string) (*model.Member, error) {
	m, err := d.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, raid.ErrNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(m.PinHash), []byte(pin)) != nil {
		return nil, ErrBadCredentials
	}
	return m, nil
}

// Seed fills an empty directory with names. The bootstrap member, when it is
// one of names, is created as Administrator. It returns the generated PINs
// keyed by name, or nil when the directory already had members.
func (d *Directory) Seed(ctx context.Context, names []string, bootstrap string) (map[string]string, error) {
	n, err := d.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		d.logger.Debug("roster seed skipped, directory not empty", zap.Int64("members", n))
		return nil, nil
	}

	pins := make(map[string]string, len(names))
	for _, name := range names {
		perm := model.PermissionUser
		if bootstrap != "" && strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(bootstrap)) {
			perm = model.PermissionAdministrator
		}
		m, pin, err := d.create(ctx, name, model.RoleDPS, perm)
		if err != nil {
			if errors.Is(err, raid.ErrConflict) {
				continue
			}
			return pins, err
		}
		pins[m.Name] = pin
		d.logger.Info("seeded member",
			zap.String("member_id", m.ID),
			zap.String("name", m.Name),
			zap.String("permission", string(m.Permission)),
			zap.String("pin", pin))
	}
	return pins, nil
}

// ValidatePin checks the 4 to 8 digit PIN format.
func ValidatePin(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return raid.Invalid("pin", "must be 4 to 8 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return raid.Invalid("pin", "must contain digits only")
		}
	}
	return nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", raid.Invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", raid.Invalid("name", fmt.Sprintf("must be at most %d characters", maxNameLen))
	}
	return name, nil
}

func normalizeItems(id string, spec model.SpecType, items []model.GearItem) ([]model.BisItem, error) {
	seen := make(map[model.Slot]bool, len(items))
	rows := make([]model.BisItem, 0, len(items))
	for i, it := range items {
		if err := raid.ValidateSlot(it.Slot); err != nil {
			return nil, err
		}
		if !it.Kind.Valid() {
			return nil, raid.Invalid("kind", fmt.Sprintf("unknown item kind %q", it.Kind))
		}
		if seen[it.Slot] {
			return nil, raid.Invalid("items", fmt.Sprintf("slot %s listed twice", it.Slot))
		}
		seen[it.Slot] = true
		rows = append(rows, model.BisItem{
			MemberID:        id,
			SpecType:        spec,
			Slot:            it.Slot,
			Kind:            it.Kind,
			RequiresUpgrade: it.Kind == model.ItemKindAugmentedTome,
			Position:        i,
		})
	}
	return rows, nil
}

// loadSets fills MainSpec and OffSpec for members from the bis_items table.
func loadSets(tx *gorm.DB, members []*model.Member) error {
	if len(members) == 0 {
		return nil
	}
	ids := make([]string, len(members))
	byID := make(map[string]*model.Member, len(members))
	for i, m := range members {
		ids[i] = m.ID
		byID[m.ID] = m
		m.MainSpec = model.BisSet{Link: m.MainSpecLink, Items: []model.GearItem{}}
		m.OffSpec = model.BisSet{Link: m.OffSpecLink, Items: []model.GearItem{}}
	}

	var rows []model.BisItem
	if err := tx.Where("member_id IN ?", ids).Order("position").Find(&rows).Error; err != nil {
		return err
	}
	for _, r := range rows {
		m := byID[r.MemberID]
		if set := m.Spec(r.SpecType); set != nil {
			set.Items = append(set.Items, r.GearItem())
		}
	}
	return nil
}

func generatePin() (string, error) {
	var sb strings.Builder
	for i := 0; i < generatedPinLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

func hashPin(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), PinCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
