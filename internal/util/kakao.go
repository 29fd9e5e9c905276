package util

import "strings"

const (
	KakaoSeeMorePadding = 500
	KakaoZeroWidthSpace = "\u200b"

	// 카카오톡 미리보기에 보이는 대략적인 줄 수
	KakaoPreviewLines = 8
)

// 카카오톡 '전체보기'용 제로폭 문자를 채워 instruction 뒤로 본문을 접는다.
func ApplyKakaoSeeMorePadding(text, instruction string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	head := strings.TrimSpace(instruction)

	var b strings.Builder
	b.Grow(len(head) + len(KakaoZeroWidthSpace)*KakaoSeeMorePadding + len(text) + 1)
	b.WriteString(head)
	b.WriteString(strings.Repeat(KakaoZeroWidthSpace, KakaoSeeMorePadding))
	if !strings.HasPrefix(text, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(text)
	return b.String()
}

// 본문 첫 줄이 header 와 같으면 제거한다.
func StripLeadingHeader(text, header string) string {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(header) == "" {
		return text
	}
	if !strings.HasPrefix(text, header) {
		return text
	}
	rest := strings.TrimPrefix(text, header)
	return strings.TrimLeft(rest, "\r\n")
}

// header 를 미리보기로 남기고 나머지를 '전체보기' 뒤로 보낸다.
// header 가 비어 있으면 fallback 을 미리보기 문구로 쓴다.
func ApplySeeMoreWithHeader(text, header, fallback, suffix string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	body := StripLeadingHeader(text, header)
	instruction := strings.TrimSpace(header)
	switch {
	case instruction == "":
		instruction = strings.TrimSpace(fallback)
	case suffix != "":
		instruction += suffix
	}
	return ApplyKakaoSeeMorePadding(body, instruction)
}

// FoldLongMessage 는 header+lines 가 미리보기 한도를 넘을 때만 접는다.
func FoldLongMessage(header string, lines []string, hint string) string {
	body := strings.Join(lines, "\n")
	if len(lines)+1 <= KakaoPreviewLines {
		if strings.TrimSpace(header) == "" {
			return body
		}
		return header + "\n" + body
	}
	suffix := ""
	if strings.TrimSpace(hint) != "" {
		suffix = "\n" + strings.TrimSpace(hint)
	}
	return ApplySeeMoreWithHeader(header+"\n"+body, header, hint, suffix)
}
