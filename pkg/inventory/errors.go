package inventory

import (
	"errors"
	"fmt"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrNotFound is matched by every NotFoundError
	// 対象が存在しない場合のエラー
	ErrNotFound = errors.New("対象が見つかりません")

	// ErrConflict is matched by every ConflictError
	// 既に存在するIDで作成しようとした場合のエラー
	ErrConflict = errors.New("IDは既に存在します")

	// ErrReferenced is matched by every ReferencedError
	// 移動記録から参照されているため削除できない場合のエラー
	ErrReferenced = errors.New("移動記録から参照されています")
)

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// NotFoundError is returned when an operation targets a missing entity
// 存在しないエンティティを操作した場合のエラー
type NotFoundError struct {
	Entity EntityKind `json:"entity"`
	ID     string     `json:"id"`
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s が見つかりません: %s", e.Entity, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError is returned when creating an entity whose ID already exists
// 重複IDでの作成時のエラー
type ConflictError struct {
	Entity EntityKind `json:"entity"`
	ID     string     `json:"id"`
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s は既に存在します: %s", e.Entity, e.ID)
}

func (e ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ReferencedError is returned when a delete is blocked by movements
// 移動記録の参照により削除が拒否された場合のエラー
type ReferencedError struct {
	Entity     EntityKind `json:"entity"`
	ID         string     `json:"id"`
	References int64      `json:"references"` // 参照している移動記録数（不明な場合は0）
}

func (e ReferencedError) Error() string {
	if e.References > 0 {
		return fmt.Sprintf("%s %s は %d 件の移動記録から参照されているため削除できません", e.Entity, e.ID, e.References)
	}
	return fmt.Sprintf("%s %s は移動記録から参照されているため削除できません", e.Entity, e.ID)
}

func (e ReferencedError) Is(target error) bool {
	return target == ErrReferenced
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewNotFoundError creates a new not-found error
func NewNotFoundError(entity EntityKind, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// NewConflictError creates a new conflict error
func NewConflictError(entity EntityKind, id string) *ConflictError {
	return &ConflictError{Entity: entity, ID: id}
}

// NewReferencedError creates a new referenced error
func NewReferencedError(entity EntityKind, id string, references int64) *ReferencedError {
	return &ReferencedError{Entity: entity, ID: id, References: references}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// asDomainError keeps typed errors intact and wraps anything else
// 型付きエラーはそのまま返し、それ以外はストレージエラーに包む
func asDomainError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsStorage(err) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrReferenced) {
		return err
	}
	return NewStorageError(operation, "ストレージ操作に失敗しました", err)
}
