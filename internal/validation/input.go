// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// ReferralCodePrefix — обязательный префикс реферального кода.
const ReferralCodePrefix = "REF-"

// IsValidReferralCode проверяет формат реферального кода: префикс REF-
// и непустой остаток из заглавных букв, цифр и дефисов.
func IsValidReferralCode(code string) bool {
	if !strings.HasPrefix(code, ReferralCodePrefix) {
		return false
	}

	rest := code[len(ReferralCodePrefix):]
	if rest == "" {
		return false
	}

	for _, ch := range rest {
		switch {
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-':
		default:
			return false
		}
	}

	return true
}

// IsValidUTR проверяет номер банковской транзакции: от 6 до 30 символов,
// только буквы и цифры.
func IsValidUTR(utr string) bool {
	if len(utr) < 6 || len(utr) > 30 {
		return false
	}

	for _, ch := range utr {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		default:
			return false
		}
	}

	return true
}

// IsValidInstagramUsername проверяет имя пользователя Instagram:
// от 1 до 30 символов, строчные буквы, цифры, точка и подчёркивание.
func IsValidInstagramUsername(username string) bool {
	if len(username) == 0 || len(username) > 30 {
		return false
	}

	for _, ch := range username {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= '0' && ch <= '9':
		case ch == '.' || ch == '_':
		default:
			return false
		}
	}

	return true
}
