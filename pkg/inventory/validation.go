package inventory

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxIDLength   = 50
	maxNameLength = 100
	maxTextLength = 200
)

var idPattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// NormalizeID trims and upper-cases an entity ID
// エンティティIDを正規化（前後の空白除去・大文字化）
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidateProductID 正規化済み商品IDの形式をバリデーション
func ValidateProductID(productID string) error {
	return validateID("product_id", "商品ID", productID)
}

// ValidateLocationID 正規化済みロケーションIDの形式をバリデーション
func ValidateLocationID(locationID string) error {
	return validateID("location_id", "ロケーションID", locationID)
}

func validateID(field, label, id string) error {
	if id == "" {
		return NewValidationError(field, label+"が空です", id)
	}
	if utf8.RuneCountInString(id) > maxIDLength {
		return NewValidationError(field, label+"が長すぎます", id)
	}
	// 英数字、ハイフン、アンダースコアのみ許可
	if !idPattern.MatchString(id) {
		return NewValidationError(field, label+"に無効な文字が含まれています", id)
	}
	return nil
}

// ValidateName 表示名をバリデーション
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "名前が空です", name)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return NewValidationError("name", "名前が長すぎます", name)
	}
	return nil
}

// ValidateText validates optional free text such as a description or address.
func ValidateText(field, text string) error {
	if utf8.RuneCountInString(text) > maxTextLength {
		return NewValidationError(field, "文字数が上限を超えています", text)
	}
	return nil
}

// ValidateQuantity 移動数量をバリデーション
func ValidateQuantity(quantity int64) error {
	if quantity <= 0 {
		return NewValidationError("qty", "数量は正の値である必要があります", fmt.Sprintf("%d", quantity))
	}
	return nil
}

// ValidateMovement checks the invariants a movement must hold before it is
// stored. Reference checks against existing entities happen in the Manager.
// 移動記録の不変条件をバリデーション
func ValidateMovement(m *Movement) error {
	if m == nil {
		return NewValidationError("movement", "移動記録がnilです", "")
	}
	if err := ValidateProductID(m.ProductID); err != nil {
		return err
	}
	if err := ValidateQuantity(m.Quantity); err != nil {
		return err
	}
	if m.FromLocation == nil && m.ToLocation == nil {
		return NewValidationError("location", "移動元または移動先のいずれかを指定してください", "")
	}
	if m.FromLocation != nil {
		if err := validateID("from_location", "移動元ロケーションID", *m.FromLocation); err != nil {
			return err
		}
	}
	if m.ToLocation != nil {
		if err := validateID("to_location", "移動先ロケーションID", *m.ToLocation); err != nil {
			return err
		}
	}
	if m.FromLocation != nil && m.ToLocation != nil && *m.FromLocation == *m.ToLocation {
		return NewValidationError("location", "移動元と移動先が同じです", fmt.Sprintf("%s -> %s", *m.FromLocation, *m.ToLocation))
	}
	return nil
}

// ValidateMovementFilter 移動一覧の絞り込み条件をバリデーション
func ValidateMovementFilter(filter MovementFilter) error {
	if filter.Limit < 0 {
		return NewValidationError("limit", "件数は0以上である必要があります", fmt.Sprintf("%d", filter.Limit))
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return NewValidationError("date_range", "開始日が終了日より後になっています",
			fmt.Sprintf("%s > %s", filter.From.Format("2006-01-02"), filter.To.Format("2006-01-02")))
	}
	return nil
}

// normalizeMovementInput converts caller input into a movement value with
// normalized IDs; empty locations become the external point (nil).
func normalizeMovementInput(in MovementInput) *Movement {
	m := &Movement{
		ProductID:    NormalizeID(in.ProductID),
		FromLocation: StringPtr(NormalizeID(in.FromLocation)),
		ToLocation:   StringPtr(NormalizeID(in.ToLocation)),
		Quantity:     in.Quantity,
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		m.Timestamp = in.Timestamp.UTC().Truncate(time.Microsecond)
	}
	return m
}
