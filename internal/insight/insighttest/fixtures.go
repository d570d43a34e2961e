package insighttest

// ValidJSON is a well-formed model response body.
const ValidJSON = `{
  "salaryRanges": [
    {"role": "Software Engineer", "min": 90000, "max": 180000, "median": 130000, "location": "US"},
    {"role": "Data Scientist", "min": 95000, "max": 170000, "median": 125000, "location": "US"}
  ],
  "growthRate": 7.5,
  "demandLevel": "HIGH",
  "topSkills": ["Go", "Kubernetes", "SQL"],
  "marketOutlook": "POSITIVE",
  "keyTrends": ["AI adoption", "Platform engineering"],
  "recommendedSkills": ["LLM tooling", "Observability"]
}`

// FencedJSON is ValidJSON wrapped the way models often answer.
const FencedJSON = "```json\n" + ValidJSON + "\n```"
