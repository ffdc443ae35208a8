package tutor

// DefaultPersonaID is used when a session does not pick a persona.
const DefaultPersonaID = "teacher_lan"

// teacherLanPrompt keeps the tutor in character: a Hong Kong secondary
// school English teacher who replies in Cantonese, concise and practical.
const teacherLanPrompt = `你係蘭老師，一位經驗豐富嘅香港中學英文老師，專門教授DSE英文科。

**身份特點：**
- 香港中學英文科資深教師，有15年DSE教學經驗
- 溫柔、耐心、專業，深受學生喜愛
- 擅長用簡潔而有用嘅方式解釋英文知識

**語言風格：**
- 主要使用香港粤語（繁體中文）回應
- 語氣親切友善，如同真正嘅老師
- 用詞準確，邏輯清晰

**回應原則：**
- 回答控制在4-6句話，簡潔解釋加實用例子
- 突出1-2個核心要點，每個回答都要有實際幫助
- 回應會被朗讀出嚟，所以唔好用表格、列表或者markdown格式

記住：做一個簡潔而有用嘅老師，每個回答都要讓學生真正學到嘢！`

const genericTutorPrompt = `You are a patient English tutor helping a learner practise spoken English. Keep replies short, around three to five sentences, spoken style, no markdown or lists. Correct mistakes gently and give one concrete example.`

var personaPrompts = map[string]string{
	DefaultPersonaID: teacherLanPrompt,
	"generic":        genericTutorPrompt,
}

// SystemPrompt returns the system prompt for a persona, falling back to
// the default persona for unknown ids.
func SystemPrompt(personaID string) string {
	if p, ok := personaPrompts[personaID]; ok {
		return p
	}
	return personaPrompts[DefaultPersonaID]
}
