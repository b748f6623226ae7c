// internal/errs/errs.go
package errs

import (
	"errors"
	"fmt"
)

// Kind 是错误的大类，决定了调用方如何处理：
// 参数类错误立即拒绝、冲突类错误是高并发下的正常业务结果、
// 基础设施错误面向运维而不是调用方。
type Kind int

const (
	KindValidation Kind = iota + 1 // 参数不合法，未触达任何锁
	KindNotFound                   // 资源不存在
	KindConflict                   // 并发竞争下的预期失败（售罄、余额不足等）
	KindLockTimeout                // 锁等待超时，可稍后重试
	KindInfrastructure             // 消息总线/存储故障，进入死信与告警
)

// Code 对应具体的业务错误码，与对外返回保持稳定。
type Code string

const (
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	CodeValidationError  Code = "VALIDATION_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternalError    Code = "INTERNAL_ERROR"
	CodeConflict         Code = "CONFLICT"
	CodeLockTimeout      Code = "LOCK_TIMEOUT"

	CodeUserNotFound Code = "USER_NOT_FOUND"

	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeMaxBalanceExceeded    Code = "MAX_BALANCE_LIMIT_EXCEEDED"
	CodeInvalidChargeAmount   Code = "INVALID_CHARGE_AMOUNT"
	CodeBalanceConcurrency    Code = "BALANCE_CONCURRENCY_ERROR"
	CodeProductNotFound       Code = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock     Code = "INSUFFICIENT_STOCK"
	CodeOrderNotFound         Code = "ORDER_NOT_FOUND"
	CodeOrderItemsEmpty       Code = "ORDER_ITEMS_EMPTY"
	CodePaymentFailed         Code = "PAYMENT_FAILED"
	CodeCouponNotFound        Code = "COUPON_NOT_FOUND"
	CodeCouponExhausted       Code = "COUPON_EXHAUSTED"
	CodeCouponExpired         Code = "COUPON_EXPIRED"
	CodeCouponAlreadyIssued   Code = "COUPON_ALREADY_ISSUED"
	CodeCouponAlreadyUsed     Code = "COUPON_ALREADY_USED"
	CodeCouponNotUsed         Code = "COUPON_NOT_USED"
	CodeCouponNotApplicable   Code = "COUPON_NOT_APPLICABLE"
	CodeMinimumOrderAmount    Code = "MINIMUM_ORDER_AMOUNT_NOT_MET"
	CodeRequestNotFound       Code = "REQUEST_NOT_FOUND"
)

// Error 是带错误码的业务错误。
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is 让 errors.Is 按错误码匹配，忽略 message 和 cause。
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Newf(kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap 保留底层原因，便于日志定位。
func Wrap(err error, kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, cause: err}
}

// CodeOf 提取错误码，非业务错误返回 INTERNAL_ERROR。
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// KindOf 提取错误大类，未知错误按基础设施错误处理。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// IsConflict 判断是否属于并发竞争下的预期失败。
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
