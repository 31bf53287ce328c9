package intake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/streamflow/internal/domain"
	"github.com/vladislavdragonenkov/streamflow/internal/events"
)

// Validator проверяет входной граф заказа: структурные правила задаются
// тегами validate, денежные правила проверяются отдельно.
type Validator struct {
	validate *validator.Validate
}

// moneyScale: денежные поля хранятся как NUMERIC(18,2).
const moneyScale = 2

// NewValidator создаёт Validator.
func NewValidator() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return &Validator{validate: validate}
}

// Validate возвращает список нарушений. Пустой список означает валидный заказ.
func (v *Validator) Validate(order events.OrderPayload) []string {
	var problems []string

	if err := v.validate.Struct(order); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return []string{err.Error()}
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describe(fe))
		}
	}

	if order.Customer != nil &&
		strings.TrimSpace(order.Customer.FirstName) == "" &&
		strings.TrimSpace(order.Customer.LastName) == "" {
		problems = append(problems, "Customer must have a first or last name")
	}

	itemsTotal := decimal.Zero
	for i, item := range order.Items {
		if !item.UnitPrice.IsPositive() {
			problems = append(problems, fmt.Sprintf("Items[%d].UnitPrice must be greater than zero", i))
		}
		if !fitsMoneyScale(item.UnitPrice) {
			problems = append(problems, fmt.Sprintf("Items[%d].UnitPrice must have at most 2 decimal places", i))
		}
		itemsTotal = itemsTotal.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
	}

	if order.Payment != nil {
		if !order.Payment.Amount.IsPositive() {
			problems = append(problems, "Payment.Amount must be greater than zero")
		}
		if !fitsMoneyScale(order.Payment.Amount) {
			problems = append(problems, "Payment.Amount must have at most 2 decimal places")
		}
	}

	if !fitsMoneyScale(order.TotalAmount) {
		problems = append(problems, "TotalAmount must have at most 2 decimal places")
	}

	if !order.TotalAmount.IsPositive() {
		problems = append(problems, "TotalAmount must be greater than zero")
	} else if len(order.Items) > 0 && itemsTotal.Sub(order.TotalAmount).Abs().GreaterThan(domain.AmountTolerance) {
		problems = append(problems, fmt.Sprintf(
			"TotalAmount %s does not match items sum %s", order.TotalAmount.StringFixed(2), itemsTotal.StringFixed(2)))
	}

	return problems
}

// fitsMoneyScale сообщает, что значение сохранится без округления.
// Незначащие нули ("9.9900") не считаются лишними разрядами.
func fitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(moneyScale))
}

// describe превращает нарушение тега в читаемое сообщение.
func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "OrderPayload.")
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "uuid":
		return field + " must be a valid UUID"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "min":
		if field == "Items" {
			return "Order must contain at least one item"
		}
		return field + " must contain at least " + fe.Param() + " elements"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
