package domain

import "github.com/shopspring/decimal"

// centsScale 最小貨幣單位換算比例（1 元 = 100 cents）
var centsScale = decimal.NewFromInt(100)

// ParseAmount 解析外部傳入的金額字串並換算成 cents
// 金額必須是有限的正十進位數；超過兩位小數時四捨五入到 cents。
//
// 參數:
//
//	s: 外部輸入的金額字串（如 "100"、"49.99"）
//
// 回傳:
//
//	int64: 換算後的 cents
//	error: 解析失敗或金額 <= 0 回傳 ErrInvalidAmount
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	cents := d.Mul(centsScale).Round(0)
	if !cents.IsInteger() || !cents.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	v := cents.IntPart()
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatAmount 將 cents 轉回固定兩位小數的十進位字串（如 12345 → "123.45"）。
func FormatAmount(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsScale).StringFixed(2)
}
