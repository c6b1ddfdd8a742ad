// Package tgui provides small Telegram UI helpers:
//   - Inline URL keyboard builder
//   - HTML fragments that are safe for ParseMode="HTML" (auto escaping)
package tgui
